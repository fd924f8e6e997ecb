package httpapi

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/localzure/brokerd/internal/admin"
	"github.com/localzure/brokerd/internal/model"
)

func (s *Server) createOrUpdateQueue(c *gin.Context) {
	name := c.Param("queue")
	raw, _ := io.ReadAll(c.Request.Body)
	props := parsePropertiesXML(raw, model.DefaultEntityProperties())

	q, created, err := s.broker.Admin.CreateOrUpdateQueue(name, props)
	if err != nil {
		writeXMLError(c, err)
		return
	}
	s.broker.RecordAuditMutation("CreateOrUpdateQueue", "queue", name, created)
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.Data(status, "application/atom+xml", queueToXML(q))
}

func (s *Server) getQueue(c *gin.Context) {
	q, err := s.broker.Admin.GetQueue(c.Param("queue"))
	if err != nil {
		writeXMLError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/atom+xml", queueToXML(q))
}

func (s *Server) deleteQueue(c *gin.Context) {
	name := c.Param("queue")
	if err := s.broker.Admin.DeleteQueue(name); err != nil {
		writeXMLError(c, err)
		return
	}
	s.broker.RecordAuditMutation("DeleteQueue", "queue", name, false)
	c.Status(http.StatusOK)
}

func (s *Server) listQueues(c *gin.Context) {
	skip, _ := strconv.Atoi(c.Query("$skip"))
	top, _ := strconv.Atoi(c.Query("$top"))
	queues := s.broker.Admin.ListQueues(skip, top)

	entries := make([][]byte, 0, len(queues))
	for _, q := range queues {
		entries = append(entries, queueToXML(q))
	}
	c.Data(http.StatusOK, "application/atom+xml", joinFeed(entries))
}

func (s *Server) createOrUpdateTopic(c *gin.Context) {
	name := c.Param("topic")
	raw, _ := io.ReadAll(c.Request.Body)
	props := parsePropertiesXML(raw, model.DefaultEntityProperties())

	t, created, err := s.broker.Admin.CreateOrUpdateTopic(name, props)
	if err != nil {
		writeXMLError(c, err)
		return
	}
	s.broker.RecordAuditMutation("CreateOrUpdateTopic", "topic", name, created)
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.Data(status, "application/atom+xml", topicToXML(t))
}

func (s *Server) getTopic(c *gin.Context) {
	t, err := s.broker.Admin.GetTopic(c.Param("topic"))
	if err != nil {
		writeXMLError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/atom+xml", topicToXML(t))
}

func (s *Server) deleteTopic(c *gin.Context) {
	name := c.Param("topic")
	if err := s.broker.Admin.DeleteTopic(name); err != nil {
		writeXMLError(c, err)
		return
	}
	s.broker.RecordAuditMutation("DeleteTopic", "topic", name, false)
	c.Status(http.StatusOK)
}

func (s *Server) createOrUpdateSubscription(c *gin.Context) {
	topic, sub := c.Param("topic"), c.Param("sub")
	raw, _ := io.ReadAll(c.Request.Body)
	props := parsePropertiesXML(raw, model.DefaultEntityProperties())

	sd, created, err := s.broker.Admin.CreateOrUpdateSubscription(topic, sub, props)
	if err != nil {
		writeXMLError(c, err)
		return
	}
	s.broker.RecordAuditMutation("CreateOrUpdateSubscription", "subscription", topic+"/"+sub, created)
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.Data(status, "application/atom+xml", subscriptionToXML(sd))
}

func (s *Server) getSubscription(c *gin.Context) {
	sd, err := s.broker.Admin.GetSubscription(c.Param("topic"), c.Param("sub"))
	if err != nil {
		writeXMLError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/atom+xml", subscriptionToXML(sd))
}

func (s *Server) deleteSubscription(c *gin.Context) {
	topic, sub := c.Param("topic"), c.Param("sub")
	if err := s.broker.Admin.DeleteSubscription(topic, sub); err != nil {
		writeXMLError(c, err)
		return
	}
	s.broker.RecordAuditMutation("DeleteSubscription", "subscription", topic+"/"+sub, false)
	c.Status(http.StatusOK)
}

func (s *Server) createOrUpdateRule(c *gin.Context) {
	topic, sub, rule := c.Param("topic"), c.Param("sub"), c.Param("rule")
	raw, _ := io.ReadAll(c.Request.Body)
	kind, sqlExpr, corr := parseRuleXML(raw)

	created, err := s.broker.Admin.CreateOrUpdateRule(topic, sub, rule, admin.RuleSpec{
		Kind:          kind,
		SQLExpression: sqlExpr,
		Correlation:   corr,
	})
	if err != nil {
		writeXMLError(c, err)
		return
	}
	s.broker.RecordAuditMutation("CreateOrUpdateRule", "rule", topic+"/"+sub+"/"+rule, created)

	r, err := s.broker.Admin.GetRule(topic, sub, rule)
	if err != nil {
		writeXMLError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.Data(status, "application/atom+xml", ruleToXML(r))
}

func (s *Server) getRule(c *gin.Context) {
	r, err := s.broker.Admin.GetRule(c.Param("topic"), c.Param("sub"), c.Param("rule"))
	if err != nil {
		writeXMLError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/atom+xml", ruleToXML(r))
}

func (s *Server) deleteRule(c *gin.Context) {
	topic, sub, rule := c.Param("topic"), c.Param("sub"), c.Param("rule")
	if err := s.broker.Admin.DeleteRule(topic, sub, rule); err != nil {
		writeXMLError(c, err)
		return
	}
	s.broker.RecordAuditMutation("DeleteRule", "rule", topic+"/"+sub+"/"+rule, false)
	c.Status(http.StatusOK)
}

// joinFeed wraps a set of already-built Atom entries in a minimal feed
// element for the list endpoints (spec §6.1: "$Resources/Queues... 200
// (Atom feed)").
func joinFeed(entries [][]byte) []byte {
	out := []byte(`<?xml version="1.0" encoding="utf-8"?>` + "\n" + `<feed xmlns="http://www.w3.org/2005/Atom">` + "\n")
	for _, e := range entries {
		out = append(out, e...)
		out = append(out, '\n')
	}
	out = append(out, []byte("</feed>")...)
	return out
}
