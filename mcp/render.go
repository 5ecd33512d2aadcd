package mcp

import (
	"github.com/mark3labs/x402-agentpay"
	"github.com/mark3labs/x402-agentpay/gate"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
)

// Result metadata keys.
const (
	// MetaKeyResult carries the gate decision: kind, intent, state and error code.
	MetaKeyResult = "x402/result"

	// MetaKeyPaymentResponse carries the decoded X-PAYMENT-RESPONSE settlement.
	MetaKeyPaymentResponse = "x402/payment-response"
)

// Render converts a gate result into a tool result. The first content item is
// the gate's message; a successful response body follows as a second item.
func Render(res gate.Result) *mcpproto.CallToolResult {
	message := res.Message
	if message == "" {
		message = "No payment action taken."
	}
	content := []mcpproto.Content{mcpproto.NewTextContent(message)}
	if res.Outcome != nil && res.Outcome.Success && len(res.Outcome.Data) > 0 {
		content = append(content, mcpproto.NewTextContent(string(res.Outcome.Data)))
	}

	decision := map[string]interface{}{
		"kind":   res.Kind.String(),
		"intent": res.Intent.String(),
		"state":  res.State.String(),
	}
	if res.Err != nil {
		decision["code"] = string(x402.CodeOf(res.Err))
	}
	if res.Prompt != nil {
		decision["prompt"] = res.Prompt.ID
	}
	if res.Outcome != nil {
		decision["status"] = res.Outcome.Status
		if res.Outcome.InvalidReason != "" {
			decision["invalidReason"] = res.Outcome.InvalidReason
		}
	}

	fields := map[string]interface{}{MetaKeyResult: decision}
	if res.Outcome != nil && res.Outcome.Settlement != nil {
		fields[MetaKeyPaymentResponse] = res.Outcome.Settlement
	}

	result := &mcpproto.CallToolResult{
		Content: content,
		IsError: isError(res),
	}
	result.Meta = &mcpproto.Meta{AdditionalFields: fields}
	return result
}

func isError(res gate.Result) bool {
	switch res.Kind {
	case gate.KindFail, gate.KindBusy:
		return true
	case gate.KindPay:
		return res.Err != nil
	}
	return false
}
