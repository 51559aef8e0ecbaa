package executor

import (
	"fmt"
	"strconv"
	"strings"

	"droid/internal/agent/ports"
)

// The vision model answers with freeform reasoning followed by exactly one
// action in a small call grammar:
//
//	do(action="Tap", element=[x,y])
//	do(action="Swipe", start=[x1,y1], end=[x2,y2])
//	finish(message="...")
//
// SplitResponse separates the reasoning prefix from the action call;
// ParseAction turns the call into a typed ports.Action.

// SplitResponse splits raw model output into reasoning and action text.
func SplitResponse(content string) (thinking, action string) {
	for _, marker := range []string{"finish(message=", "do(action="} {
		if idx := strings.Index(content, marker); idx >= 0 {
			return strings.TrimSpace(content[:idx]), strings.TrimSpace(content[idx:])
		}
	}

	if idx := strings.Index(content, "<answer>"); idx >= 0 {
		thinking = content[:idx]
		thinking = strings.ReplaceAll(thinking, "<think>", "")
		thinking = strings.ReplaceAll(thinking, "</think>", "")
		action = strings.TrimSpace(strings.ReplaceAll(content[idx+len("<answer>"):], "</answer>", ""))
		return strings.TrimSpace(thinking), action
	}

	return "", strings.TrimSpace(content)
}

// ParseAction parses one action call. Unknown formats and unknown action
// names are errors; the caller decides whether to retry or fail the step.
func ParseAction(actionStr string) (ports.Action, error) {
	actionStr = strings.TrimSpace(actionStr)

	switch {
	case strings.HasPrefix(actionStr, "finish("):
		params, err := extractParams(actionStr, "finish")
		if err != nil {
			return ports.Action{}, fmt.Errorf("parse finish action: %w", err)
		}
		msg, _ := params["message"].(string)
		if msg == "" {
			msg = "Task completed"
		}
		return ports.Action{Kind: ports.ActionFinish, Message: msg}, nil

	case strings.HasPrefix(actionStr, "do("):
		params, err := extractParams(actionStr, "do")
		if err != nil {
			return ports.Action{}, fmt.Errorf("parse do action: %w", err)
		}
		return buildDoAction(params)

	default:
		return ports.Action{}, fmt.Errorf("unknown action format: %q", truncate(actionStr, 120))
	}
}

func buildDoAction(params map[string]any) (ports.Action, error) {
	name, _ := params["action"].(string)

	switch name {
	case "Tap":
		return pointAction(ports.ActionTap, params)
	case "Double Tap":
		return pointAction(ports.ActionDoubleTap, params)
	case "Long Press":
		return pointAction(ports.ActionLongPress, params)
	case "Swipe":
		start, ok := asPoint(params["start"])
		if !ok {
			// Some model variants emit element= for the swipe origin.
			start, ok = asPoint(params["element"])
		}
		end, okEnd := asPoint(params["end"])
		if !ok || !okEnd {
			return ports.Action{}, fmt.Errorf("swipe requires start and end points")
		}
		return ports.Action{Kind: ports.ActionSwipe, Element: start, End: end}, nil
	case "Type", "Type_Name":
		text, _ := params["text"].(string)
		return ports.Action{Kind: ports.ActionType, Text: text}, nil
	case "Launch":
		app, _ := params["app"].(string)
		if app == "" {
			return ports.Action{}, fmt.Errorf("launch requires an app name")
		}
		return ports.Action{Kind: ports.ActionLaunch, App: app}, nil
	case "Back":
		return ports.Action{Kind: ports.ActionBack}, nil
	case "Home":
		return ports.Action{Kind: ports.ActionHome}, nil
	case "Wait":
		seconds := asSeconds(params["duration"])
		if seconds <= 0 {
			seconds = 1
		}
		return ports.Action{Kind: ports.ActionWait, Seconds: seconds}, nil
	case "Take Over", "Take_Over":
		msg, _ := params["message"].(string)
		if msg == "" {
			msg = "Human intervention requested"
		}
		return ports.Action{Kind: ports.ActionTakeOver, Message: msg}, nil
	default:
		return ports.Action{}, fmt.Errorf("unknown action name: %q", name)
	}
}

func pointAction(kind ports.ActionKind, params map[string]any) (ports.Action, error) {
	point, ok := asPoint(params["element"])
	if !ok {
		return ports.Action{}, fmt.Errorf("%s requires element=[x,y]", kind)
	}
	msg, _ := params["message"].(string)
	return ports.Action{Kind: kind, Element: point, Message: msg}, nil
}

// extractParams splits "name(k=v, k=v)" respecting quotes and brackets.
func extractParams(actionStr, functionName string) (map[string]any, error) {
	prefix := functionName + "("
	if !strings.HasPrefix(actionStr, prefix) {
		return nil, fmt.Errorf("action does not start with %s", prefix)
	}
	if !strings.HasSuffix(actionStr, ")") {
		return nil, fmt.Errorf("action is not a closed call")
	}
	paramsStr := actionStr[len(prefix) : len(actionStr)-1]

	params := make(map[string]any)
	var currentKey, currentValue string
	inQuotes := false
	var quoteChar byte
	bracketDepth := 0

	flush := func() {
		if currentKey != "" {
			params[currentKey] = parseValue(strings.TrimSpace(currentValue))
			currentKey = ""
		}
		currentValue = ""
	}

	for i := 0; i < len(paramsStr); i++ {
		ch := paramsStr[i]

		if (ch == '"' || ch == '\'') && (i == 0 || paramsStr[i-1] != '\\') {
			if !inQuotes {
				inQuotes = true
				quoteChar = ch
			} else if ch == quoteChar {
				inQuotes = false
			}
		}

		if !inQuotes {
			switch ch {
			case '[', '{':
				bracketDepth++
			case ']', '}':
				bracketDepth--
			case '=':
				if bracketDepth == 0 {
					currentKey = strings.TrimSpace(currentValue)
					currentValue = ""
					continue
				}
			case ',':
				if bracketDepth == 0 {
					flush()
					continue
				}
			}
		}

		currentValue += string(ch)
	}
	flush()

	return params, nil
}

// parseValue interprets a literal: quoted string, [x,y] list, number, bool.
// Anything unrecognized stays a raw string.
func parseValue(s string) any {
	if s == "" {
		return ""
	}

	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			inner := s[1 : len(s)-1]
			inner = strings.ReplaceAll(inner, `\"`, `"`)
			inner = strings.ReplaceAll(inner, `\'`, `'`)
			return inner
		}
	}

	if s[0] == '[' && s[len(s)-1] == ']' {
		var list []any
		for _, part := range strings.Split(s[1:len(s)-1], ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			list = append(list, parseValue(part))
		}
		return list
	}

	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(strings.ToLower(s)); err == nil {
		return b
	}
	return s
}

func asPoint(v any) ([]int, bool) {
	list, ok := v.([]any)
	if !ok || len(list) != 2 {
		return nil, false
	}
	point := make([]int, 2)
	for i, item := range list {
		switch n := item.(type) {
		case int:
			point[i] = n
		case float64:
			point[i] = int(n)
		default:
			return nil, false
		}
	}
	return point, true
}

func asSeconds(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case float64:
		return n
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(n), "s"), 64); err == nil {
			return f
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
