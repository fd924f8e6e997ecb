// Atom/XML envelope construction and parsing for the admin façade
// (spec §6.1), grounded on the namespace-tolerant approach of
// original_source's _queue_to_xml/_parse_queue_properties_from_xml.
package httpapi

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/localzure/brokerd/internal/filter"
	"github.com/localzure/brokerd/internal/model"
)

const sbNamespace = "http://schemas.microsoft.com/netservices/2010/10/servicebus/connect"

type atomEntry struct {
	XMLName xml.Name    `xml:"entry"`
	Xmlns   string      `xml:"xmlns,attr"`
	Content atomContent `xml:"content"`
}

type atomContent struct {
	Type string `xml:"type,attr"`
	Body string `xml:",innerxml"`
}

func wrapAtom(body []byte) []byte {
	entry := atomEntry{
		Xmlns:   "http://www.w3.org/2005/Atom",
		Content: atomContent{Type: "application/xml", Body: string(body)},
	}
	out, _ := xml.MarshalIndent(entry, "", "  ")
	return append([]byte(xml.Header), out...)
}

// queueDescription is the wire shape of a queue's Atom content.
type queueDescription struct {
	XMLName                    xml.Name `xml:"QueueDescription"`
	Xmlns                      string   `xml:"xmlns,attr"`
	XmlnsI                     string   `xml:"xmlns:i,attr"`
	QueueName                  string   `xml:"QueueName"`
	MaxSizeInMegabytes         int64    `xml:"MaxSizeInMegabytes"`
	DefaultMessageTimeToLive   string   `xml:"DefaultMessageTimeToLive"`
	LockDuration               string   `xml:"LockDuration"`
	RequiresSession            bool     `xml:"RequiresSession"`
	RequiresDuplicateDetection bool     `xml:"RequiresDuplicateDetection"`
	DuplicateDetectionHistoryTimeWindow string `xml:"DuplicateDetectionHistoryTimeWindow"`
	EnableDeadLetteringOnMessageExpiration bool `xml:"EnableDeadLetteringOnMessageExpiration"`
	EnableBatchedOperations    bool     `xml:"EnableBatchedOperations"`
	MaxDeliveryCount           int      `xml:"MaxDeliveryCount"`
	MessageCount               int64    `xml:"MessageCount"`
	ActiveMessageCount         int64    `xml:"ActiveMessageCount"`
	DeadLetterMessageCount     int64    `xml:"DeadLetterMessageCount"`
	ScheduledMessageCount      int64    `xml:"ScheduledMessageCount"`
	SizeInBytes                int64    `xml:"SizeInBytes"`
	CreatedAt                  string   `xml:"CreatedAt"`
	UpdatedAt                  string   `xml:"UpdatedAt"`
}

func queueToXML(q *model.Queue) []byte {
	desc := queueDescription{
		Xmlns:                      sbNamespace,
		XmlnsI:                     "http://www.w3.org/2001/XMLSchema-instance",
		QueueName:                  q.Name,
		MaxSizeInMegabytes:         q.Properties.MaxSizeInBytes / (1024 * 1024),
		DefaultMessageTimeToLive:   formatISODuration(q.Properties.DefaultMessageTimeToLive),
		LockDuration:               formatISODuration(q.Properties.LockDuration),
		RequiresSession:            q.Properties.RequiresSession,
		RequiresDuplicateDetection: q.Properties.RequiresDuplicateDetection,
		DuplicateDetectionHistoryTimeWindow: formatISODuration(q.Properties.DuplicateDetectionWindow),
		EnableDeadLetteringOnMessageExpiration: q.Properties.DeadLetteringOnExpire,
		EnableBatchedOperations:    q.Properties.EnableBatchedOperations,
		MaxDeliveryCount:           q.Properties.MaxDeliveryCount,
		MessageCount:               q.Counters.ActiveMessageCount + q.Counters.DeadLetterMessageCount + q.Counters.ScheduledMessageCount,
		ActiveMessageCount:         q.Counters.ActiveMessageCount,
		DeadLetterMessageCount:     q.Counters.DeadLetterMessageCount,
		ScheduledMessageCount:      q.Counters.ScheduledMessageCount,
		SizeInBytes:                q.Counters.SizeInBytes,
		CreatedAt:                  q.CreatedAt.Format(time.RFC3339),
		UpdatedAt:                  q.UpdatedAt.Format(time.RFC3339),
	}
	body, _ := xml.MarshalIndent(desc, "", "  ")
	return wrapAtom(body)
}

type topicDescription struct {
	XMLName                    xml.Name `xml:"TopicDescription"`
	Xmlns                      string   `xml:"xmlns,attr"`
	XmlnsI                     string   `xml:"xmlns:i,attr"`
	MaxSizeInMegabytes         int64    `xml:"MaxSizeInMegabytes"`
	DefaultMessageTimeToLive   string   `xml:"DefaultMessageTimeToLive"`
	RequiresDuplicateDetection bool     `xml:"RequiresDuplicateDetection"`
	EnableBatchedOperations    bool     `xml:"EnableBatchedOperations"`
	SizeInBytes                int64    `xml:"SizeInBytes"`
	SubscriptionCount          int      `xml:"SubscriptionCount"`
	CreatedAt                  string   `xml:"CreatedAt"`
	UpdatedAt                  string   `xml:"UpdatedAt"`
}

func topicToXML(t *model.Topic) []byte {
	desc := topicDescription{
		Xmlns:                      sbNamespace,
		XmlnsI:                     "http://www.w3.org/2001/XMLSchema-instance",
		MaxSizeInMegabytes:         t.Properties.MaxSizeInBytes / (1024 * 1024),
		DefaultMessageTimeToLive:   formatISODuration(t.Properties.DefaultMessageTimeToLive),
		RequiresDuplicateDetection: t.Properties.RequiresDuplicateDetection,
		EnableBatchedOperations:    t.Properties.EnableBatchedOperations,
		SizeInBytes:                t.Counters.SizeInBytes,
		SubscriptionCount:          len(t.SubscriptionOrder),
		CreatedAt:                  t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:                  t.UpdatedAt.Format(time.RFC3339),
	}
	body, _ := xml.MarshalIndent(desc, "", "  ")
	return wrapAtom(body)
}

type subscriptionDescription struct {
	XMLName                                xml.Name `xml:"SubscriptionDescription"`
	Xmlns                                   string   `xml:"xmlns,attr"`
	XmlnsI                                  string   `xml:"xmlns:i,attr"`
	LockDuration                            string   `xml:"LockDuration"`
	RequiresSession                         bool     `xml:"RequiresSession"`
	DefaultMessageTimeToLive                string   `xml:"DefaultMessageTimeToLive"`
	DeadLetteringOnMessageExpiration        bool     `xml:"DeadLetteringOnMessageExpiration"`
	DeadLetteringOnFilterEvaluationExceptions bool   `xml:"DeadLetteringOnFilterEvaluationExceptions"`
	MaxDeliveryCount                        int      `xml:"MaxDeliveryCount"`
	EnableBatchedOperations                 bool     `xml:"EnableBatchedOperations"`
	MessageCount                            int64    `xml:"MessageCount"`
	ActiveMessageCount                      int64    `xml:"ActiveMessageCount"`
	DeadLetterMessageCount                  int64    `xml:"DeadLetterMessageCount"`
	CreatedAt                               string   `xml:"CreatedAt"`
	UpdatedAt                               string   `xml:"UpdatedAt"`
}

func subscriptionToXML(s *model.Subscription) []byte {
	desc := subscriptionDescription{
		Xmlns:                    sbNamespace,
		XmlnsI:                   "http://www.w3.org/2001/XMLSchema-instance",
		LockDuration:             formatISODuration(s.Properties.LockDuration),
		RequiresSession:          s.Properties.RequiresSession,
		DefaultMessageTimeToLive: formatISODuration(s.Properties.DefaultMessageTimeToLive),
		DeadLetteringOnMessageExpiration:          s.Properties.DeadLetteringOnExpire,
		DeadLetteringOnFilterEvaluationExceptions: s.Properties.DeadLetteringOnFilterError,
		MaxDeliveryCount:        s.Properties.MaxDeliveryCount,
		EnableBatchedOperations: s.Properties.EnableBatchedOperations,
		MessageCount:            s.Counters.ActiveMessageCount + s.Counters.DeadLetterMessageCount,
		ActiveMessageCount:      s.Counters.ActiveMessageCount,
		DeadLetterMessageCount:  s.Counters.DeadLetterMessageCount,
		CreatedAt:               s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:               s.UpdatedAt.Format(time.RFC3339),
	}
	body, _ := xml.MarshalIndent(desc, "", "  ")
	return wrapAtom(body)
}

type sqlFilterXML struct {
	XMLName          xml.Name `xml:"Filter"`
	Type             string   `xml:"type,attr"`
	SQLExpression    string   `xml:"SqlExpression"`
}

type correlationFilterXML struct {
	XMLName       xml.Name `xml:"Filter"`
	Type          string   `xml:"type,attr"`
	CorrelationID string   `xml:"CorrelationId,omitempty"`
	Label         string   `xml:"Label,omitempty"`
}

type ruleDescription struct {
	XMLName xml.Name `xml:"RuleDescription"`
	Xmlns   string   `xml:"xmlns,attr"`
	XmlnsI  string   `xml:"xmlns:i,attr"`
	Filter  []byte   `xml:",innerxml"`
}

func ruleToXML(r *model.Rule) []byte {
	var filterXML []byte
	switch r.Kind {
	case model.FilterSQL:
		filterXML, _ = xml.Marshal(sqlFilterXML{Type: "SqlFilter", SQLExpression: r.SQLExpression})
	case model.FilterCorrelation:
		cf := correlationFilterXML{Type: "CorrelationFilter"}
		if r.Correlation != nil {
			if r.Correlation.CorrelationID != nil {
				cf.CorrelationID = *r.Correlation.CorrelationID
			}
			if r.Correlation.Label != nil {
				cf.Label = *r.Correlation.Label
			}
		}
		filterXML, _ = xml.Marshal(cf)
	default:
		filterXML, _ = xml.Marshal(sqlFilterXML{Type: "SqlFilter", SQLExpression: "1=1"})
	}
	desc := ruleDescription{
		Xmlns:  sbNamespace,
		XmlnsI: "http://www.w3.org/2001/XMLSchema-instance",
		Filter: filterXML,
	}
	body, _ := xml.MarshalIndent(desc, "", "  ")
	return wrapAtom(body)
}

// findElementText scans raw for the first element named tag regardless of
// namespace prefix, returning its character data. Mirrors the original
// service's "get_text" namespace-tolerant lookup.
func findElementText(raw []byte, tag string) (string, bool) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", false
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == tag {
			var text string
			if err := dec.DecodeElement(&text, &se); err == nil {
				return text, true
			}
			return "", false
		}
	}
}

func parseBoolLenient(s string, def bool) bool {
	if s == "" {
		return def
	}
	switch s {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return def
	}
}

// parsePropertiesXML extracts EntityProperties overrides from a raw
// admin request body (either a bare *Description element or an
// atom-wrapped one), defaulting anything absent.
func parsePropertiesXML(raw []byte, base model.EntityProperties) model.EntityProperties {
	props := base
	if v, ok := findElementText(raw, "MaxSizeInMegabytes"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			props.MaxSizeInBytes = n * 1024 * 1024
		}
	}
	if v, ok := findElementText(raw, "DefaultMessageTimeToLive"); ok {
		if d, err := parseISODuration(v); err == nil {
			props.DefaultMessageTimeToLive = d
		}
	}
	if v, ok := findElementText(raw, "LockDuration"); ok {
		if d, err := parseISODuration(v); err == nil {
			props.LockDuration = d
		}
	}
	if v, ok := findElementText(raw, "RequiresSession"); ok {
		props.RequiresSession = parseBoolLenient(v, props.RequiresSession)
	}
	if v, ok := findElementText(raw, "RequiresDuplicateDetection"); ok {
		props.RequiresDuplicateDetection = parseBoolLenient(v, props.RequiresDuplicateDetection)
	}
	if v, ok := findElementText(raw, "DuplicateDetectionHistoryTimeWindow"); ok {
		if d, err := parseISODuration(v); err == nil {
			props.DuplicateDetectionWindow = d
		}
	}
	if v, ok := findElementText(raw, "EnableDeadLetteringOnMessageExpiration"); ok {
		props.DeadLetteringOnExpire = parseBoolLenient(v, props.DeadLetteringOnExpire)
	}
	if v, ok := findElementText(raw, "DeadLetteringOnMessageExpiration"); ok {
		props.DeadLetteringOnExpire = parseBoolLenient(v, props.DeadLetteringOnExpire)
	}
	if v, ok := findElementText(raw, "DeadLetteringOnFilterEvaluationExceptions"); ok {
		props.DeadLetteringOnFilterError = parseBoolLenient(v, props.DeadLetteringOnFilterError)
	}
	if v, ok := findElementText(raw, "EnableBatchedOperations"); ok {
		props.EnableBatchedOperations = parseBoolLenient(v, props.EnableBatchedOperations)
	}
	if v, ok := findElementText(raw, "MaxDeliveryCount"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			props.MaxDeliveryCount = n
		}
	}
	return props
}

var isoDurationPattern = regexp.MustCompile(`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// parseISODuration parses composite ISO-8601 durations (years, months,
// days, hours, minutes, seconds), matching the broader contract spec.md
// §6.1 requires beyond the original's PT<n>S-only shortcut.
func parseISODuration(s string) (time.Duration, error) {
	m := isoDurationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", s)
	}
	var total time.Duration
	add := func(group string, unit time.Duration) {
		if group == "" {
			return
		}
		if n, err := strconv.ParseFloat(group, 64); err == nil {
			total += time.Duration(n * float64(unit))
		}
	}
	add(m[1], 365*24*time.Hour)
	add(m[2], 30*24*time.Hour)
	add(m[3], 24*time.Hour)
	add(m[4], time.Hour)
	add(m[5], time.Minute)
	add(m[6], time.Second)
	return total, nil
}

// formatISODuration renders d as "P{n}D" when it is a whole number of
// days, else "PT{n}S".
func formatISODuration(d time.Duration) string {
	seconds := int64(d.Seconds())
	if seconds != 0 && seconds%86400 == 0 {
		return fmt.Sprintf("P%dD", seconds/86400)
	}
	return fmt.Sprintf("PT%dS", seconds)
}

// parseRuleXML extracts a RuleSpec from a raw admin request body.
func parseRuleXML(raw []byte) (kind model.FilterKind, sqlExpr string, corr *filter.CorrelationFilter) {
	if v, ok := findElementText(raw, "SqlExpression"); ok {
		return model.FilterSQL, v, nil
	}
	cid, hasCid := findElementText(raw, "CorrelationId")
	label, hasLabel := findElementText(raw, "Label")
	if hasCid || hasLabel {
		cf := &filter.CorrelationFilter{}
		if hasCid {
			cf.CorrelationID = &cid
		}
		if hasLabel {
			cf.Label = &label
		}
		return model.FilterCorrelation, "", cf
	}
	return model.FilterTrue, "", nil
}
