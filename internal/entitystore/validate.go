// Package entitystore owns the top-level queue/topic/subscription/rule
// maps and enforces naming and quota invariants (C2).
package entitystore

import (
	"regexp"
	"strings"

	validator "github.com/go-playground/validator/v10"
	multierror "github.com/hashicorp/go-multierror"

	"github.com/localzure/brokerd/internal/model"
)

var propsValidator = validator.New()

// entityPropertiesDTO mirrors model.EntityProperties' quota-bearing
// fields in plain numeric units so struct tags can carry the bounds
// spec §4.2 puts on them.
type entityPropertiesDTO struct {
	MaxSizeInMegabytes              int64   `validate:"min=1,max=81920"`
	DefaultMessageTimeToLiveSeconds float64 `validate:"min=1"`
	LockDurationSeconds             float64 `validate:"min=1,max=300"`
	DuplicateDetectionWindowSeconds float64 `validate:"min=0,max=604800"`
	MaxDeliveryCount                int     `validate:"min=1,max=2000"`
}

var reservedWords = map[string]bool{
	"system": true, "null": true, "true": true, "false": true,
	"exec": true, "drop": true, "delete": true, "insert": true,
	"update": true, "create": true, "alter": true, "grant": true, "revoke": true,
}

var forbiddenChars = regexp.MustCompile(`[%&?#@!*()<>=+]`)

var entityNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-.]{0,258}[A-Za-z0-9]$|^[A-Za-z0-9]$`)
var subscriptionNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9\-]{0,48}[A-Za-z0-9]$|^[A-Za-z0-9]$`)

// ValidateEntityName enforces the queue/topic naming rules of spec §4.2.
func ValidateEntityName(name string) error {
	var result *multierror.Error
	if len(name) < 1 || len(name) > 260 {
		result = multierror.Append(result, errorf("name must be 1-260 characters"))
	}
	if !entityNamePattern.MatchString(name) {
		result = multierror.Append(result, errorf("name must start and end with an alphanumeric character"))
	}
	if strings.Contains(name, "//") || strings.Contains(name, "__") || strings.Contains(name, "..") {
		result = multierror.Append(result, errorf("name must not contain '//' '__' or '..'"))
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		result = multierror.Append(result, errorf("name must not have leading or trailing '/'"))
	}
	if reservedWords[strings.ToLower(name)] {
		result = multierror.Append(result, errorf("name is a reserved word"))
	}
	if forbiddenChars.MatchString(name) {
		result = multierror.Append(result, errorf("name contains a forbidden character"))
	}
	return result.ErrorOrNil()
}

// ValidateSubscriptionName enforces the subscription naming rules.
func ValidateSubscriptionName(name string) error {
	var result *multierror.Error
	if len(name) < 1 || len(name) > 50 {
		result = multierror.Append(result, errorf("subscription name must be 1-50 characters"))
	}
	if !subscriptionNamePattern.MatchString(name) {
		result = multierror.Append(result, errorf("subscription name must be alphanumeric and '-' with alphanumeric boundaries"))
	}
	return result.ErrorOrNil()
}

// ValidateEntityProperties enforces the quota and duration bounds of
// spec §4.2 via struct-tag validation, aggregating every violation
// instead of stopping at the first.
func ValidateEntityProperties(p model.EntityProperties) error {
	dto := entityPropertiesDTO{
		MaxSizeInMegabytes:              p.MaxSizeInBytes / (1024 * 1024),
		DefaultMessageTimeToLiveSeconds: p.DefaultMessageTimeToLive.Seconds(),
		LockDurationSeconds:             p.LockDuration.Seconds(),
		DuplicateDetectionWindowSeconds: p.DuplicateDetectionWindow.Seconds(),
		MaxDeliveryCount:                p.MaxDeliveryCount,
	}
	err := propsValidator.Struct(dto)
	if err == nil {
		return nil
	}
	var result *multierror.Error
	for _, fe := range err.(validator.ValidationErrors) {
		result = multierror.Append(result, errorf(fe.Field()+" failed "+fe.Tag()+" bound"))
	}
	return result.ErrorOrNil()
}

type validationIssue struct{ msg string }

func (v *validationIssue) Error() string { return v.msg }
func errorf(msg string) error           { return &validationIssue{msg: msg} }
