package httpapi

import (
	"encoding/xml"

	"github.com/gin-gonic/gin"

	"github.com/localzure/brokerd/internal/brokererrors"
)

// errorEnvelope is the JSON error body shape of spec §6.3.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// writeError maps err to the status/envelope pair of spec §6.3/§6.4,
// echoing the request's correlation id into details.correlation_id when
// present.
func writeError(c *gin.Context, err error) {
	be, ok := brokererrors.As(err)
	if !ok {
		be = brokererrors.Internal("unexpected error", err)
	}
	if cid := correlationID(c); cid != "" {
		be = be.WithCorrelationID(cid)
	}
	c.JSON(be.HTTPStatus(), errorEnvelope{Error: errorBody{
		Code:    string(be.Code),
		Message: be.Message,
		Details: be.Details,
	}})
}

// xmlErrorEnvelope is the XML error body shape for the admin endpoints;
// encoding/xml cannot marshal a bare map, so this mirrors errorEnvelope
// as a concrete struct.
type xmlErrorEnvelope struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Detail  string   `xml:"Detail"`
}

// writeXMLError mirrors writeError for the Atom/XML admin endpoints,
// whose bodies are XML but whose status/code contract is the same.
func writeXMLError(c *gin.Context, err error) {
	be, ok := brokererrors.As(err)
	if !ok {
		be = brokererrors.Internal("unexpected error", err)
	}
	if cid := correlationID(c); cid != "" {
		be = be.WithCorrelationID(cid)
	}
	c.XML(be.HTTPStatus(), xmlErrorEnvelope{Code: string(be.Code), Detail: be.Message})
}

func correlationID(c *gin.Context) string {
	if v := c.GetHeader("x-correlation-id"); v != "" {
		return v
	}
	return c.GetString(correlationIDContextKey)
}

const correlationIDContextKey = "correlation_id"
