package api

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

// webhookFields flattens a provider callback into string fields. Providers
// send the same payload as query params on GET, as JSON or as a form body on
// POST; scalar JSON values are stringified and nested objects are kept as raw
// JSON text.
func webhookFields(c *gin.Context) map[string]string {
	out := make(map[string]string)
	for k, v := range c.Request.URL.Query() {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	if c.Request.Body == nil {
		return out
	}
	switch c.ContentType() {
	case gin.MIMEPOSTForm, gin.MIMEMultipartPOSTForm:
		if err := c.Request.ParseForm(); err == nil {
			for k, v := range c.Request.PostForm {
				if len(v) > 0 {
					out[k] = v[0]
				}
			}
		}
	default:
		b, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil || len(strings.TrimSpace(string(b))) == 0 {
			return out
		}
		var body map[string]json.RawMessage
		if err := json.Unmarshal(b, &body); err != nil {
			return out
		}
		for k, raw := range body {
			out[k] = scalar(raw)
		}
	}
	return out
}

func scalar(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64, bool:
		// json numbers keep their source text, e.g. "0.0125"
		return strings.TrimSpace(string(raw))
	default:
		return string(raw)
	}
}

// dtmfDigits accepts both the flat form ("1234") and the structured form
// ({"digits":"1234","timed_out":false}) of the input webhook.
func dtmfDigits(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "{") {
		return v
	}
	var d struct {
		Digits any `json:"digits"`
	}
	if err := json.Unmarshal([]byte(v), &d); err != nil || d.Digits == nil {
		return ""
	}
	return fmt.Sprint(d.Digits)
}
