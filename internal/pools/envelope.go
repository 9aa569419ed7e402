package pools

import (
	"fmt"
	"strings"
)

// CheckEnvelope inspects a decoded-able payload for pool-level error
// signals: a truthy "error" field, status "error", or status false with an
// error message. It returns a *PoolReportedError, a decode error, or nil.
func CheckEnvelope(poolID string, raw []byte) error {
	var v interface{}
	if err := decode(raw, &v); err != nil {
		return err
	}

	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}

	errVal := m["error"]
	switch status := m["status"].(type) {
	case string:
		if strings.EqualFold(status, "error") {
			return &PoolReportedError{Pool: poolID, Message: errorMessage(errVal, m["message"])}
		}
	case bool:
		if !status && truthy(errVal) {
			return &PoolReportedError{Pool: poolID, Message: errorMessage(errVal, m["message"])}
		}
	}

	if truthy(errVal) {
		return &PoolReportedError{Pool: poolID, Message: errorMessage(errVal, m["message"])}
	}
	return nil
}

func truthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return strings.TrimSpace(x) != ""
	case float64:
		return x != 0
	case map[string]interface{}:
		return len(x) > 0
	}
	return true
}

func errorMessage(errVal, message interface{}) string {
	switch x := errVal.(type) {
	case string:
		if x != "" {
			return x
		}
	case map[string]interface{}:
		if msg, ok := x["message"].(string); ok && msg != "" {
			return msg
		}
	}
	if msg, ok := message.(string); ok && msg != "" {
		return msg
	}
	if _, isBool := errVal.(bool); errVal != nil && !isBool {
		return fmt.Sprint(errVal)
	}
	return "pool reported an error"
}
