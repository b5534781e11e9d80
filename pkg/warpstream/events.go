package warpstream

import (
	"strings"

	"github.com/cecil-the-coder/warp-token-gateway/pkg/warptypes"
)

// routeEvent classifies one decoded ResponseEvent and folds its effect
// into the running result (spec §4.4 step 5). It tolerates both
// snake_case and camelCase field names, since upstream has been
// observed to use either (spec §9 Design Notes).
func routeEvent(decoded map[string]any, result *warptypes.EventStreamResult, text *strings.Builder) warptypes.DecodedEvent {
	event := warptypes.DecodedEvent{Raw: decoded}

	if initObj, ok := warptypes.LookupMap(decoded, "init"); ok {
		event.Kind = warptypes.EventInit
		if cid := warptypes.LookupString(initObj, "conversation_id", "conversationId"); cid != "" {
			result.ConversationID = cid
		}
		if tid := warptypes.LookupString(initObj, "task_id", "taskId"); tid != "" {
			result.TaskID = tid
		}
		return event
	}

	if actionsObj, ok := warptypes.LookupMap(decoded, "client_actions", "clientActions"); ok {
		event.Kind = warptypes.EventClientActions
		actions, _ := warptypes.LookupSlice(actionsObj, "actions")
		for _, rawAction := range actions {
			action, ok := rawAction.(map[string]any)
			if !ok {
				continue
			}
			event.ActionKinds = append(event.ActionKinds, classifyActionKind(action))
			extractActionText(action, result, text)
		}
		return event
	}

	if _, ok := warptypes.LookupAny(decoded, "finished"); ok {
		event.Kind = warptypes.EventFinished
		return event
	}

	event.Kind = warptypes.EventUnknown
	return event
}

// extractActionText pulls assistant text out of the two action shapes
// spec §4.4 step 5 names explicitly, appending to the running text and
// updating task_id when the action carries one.
func extractActionText(action map[string]any, result *warptypes.EventStreamResult, text *strings.Builder) {
	if appendObj, ok := warptypes.LookupMap(action, "append_to_message_content", "appendToMessageContent"); ok {
		if msg, ok := warptypes.LookupMap(appendObj, "message"); ok {
			appendAgentOutputText(msg, text)
		}
		if tid := warptypes.LookupString(appendObj, "task_id", "taskId"); tid != "" {
			result.TaskID = tid
		}
	}

	if addObj, ok := warptypes.LookupMap(action, "add_messages_to_task", "addMessagesToTask"); ok {
		messages, _ := warptypes.LookupSlice(addObj, "messages")
		for _, rawMsg := range messages {
			if msg, ok := rawMsg.(map[string]any); ok {
				appendAgentOutputText(msg, text)
			}
		}
		if tid := warptypes.LookupString(addObj, "task_id", "taskId"); tid != "" {
			result.TaskID = tid
		}
	}
}

func appendAgentOutputText(message map[string]any, text *strings.Builder) {
	agentOutput, ok := warptypes.LookupMap(message, "agent_output", "agentOutput")
	if !ok {
		return
	}
	if t := warptypes.LookupString(agentOutput, "text"); t != "" {
		text.WriteString(t)
	}
}

// classifyActionKind is a debug-only classification used purely for log
// readability, grounded in original_source/warp2protobuf/warp/api_client.py's
// _get_event_type helper. It never affects control flow or spec
// invariants.
func classifyActionKind(action map[string]any) string {
	switch {
	case hasKey(action, "create_task", "createTask"):
		return "create_task"
	case hasKey(action, "append_to_message_content", "appendToMessageContent"):
		return "append_to_message_content"
	case hasKey(action, "add_messages_to_task", "addMessagesToTask"):
		return "add_messages_to_task"
	case hasKey(action, "tool_call", "toolCall"):
		return "tool_call"
	case hasKey(action, "tool_response", "toolResponse"):
		return "tool_response"
	default:
		return "unknown"
	}
}

func hasKey(m map[string]any, keys ...string) bool {
	_, ok := warptypes.LookupAny(m, keys...)
	return ok
}
