// Package adb implements the device I/O and directory ports by shelling out
// to the Android Debug Bridge. The orchestration core only sees the port
// interfaces; everything ADB-specific stays here.
package adb

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os/exec"
	"strings"

	"droid/internal/agent/ports"
	"droid/internal/logging"
)

// Client talks to devices through the adb binary.
type Client struct {
	path   string
	logger logging.Logger
}

// New constructs a Client. An empty path uses the adb found on PATH.
func New(path string, logger logging.Logger) *Client {
	if path == "" {
		path = "adb"
	}
	return &Client{path: path, logger: logging.OrNop(logger)}
}

func (c *Client) run(ctx context.Context, deviceID string, args ...string) ([]byte, error) {
	full := args
	if deviceID != "" {
		full = append([]string{"-s", deviceID}, args...)
	}
	cmd := exec.CommandContext(ctx, c.path, full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("adb %s: %s", strings.Join(args, " "), msg)
	}
	return stdout.Bytes(), nil
}

// ListDevices parses `adb devices -l` into a directory snapshot.
func (c *Client) ListDevices(ctx context.Context) ([]ports.DeviceInfo, error) {
	out, err := c.run(ctx, "", "devices", "-l")
	if err != nil {
		return nil, err
	}

	var devices []ports.DeviceInfo
	for _, line := range strings.Split(string(out), "\n")[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		info := ports.DeviceInfo{ID: fields[0]}
		switch fields[1] {
		case "device":
			info.State = ports.DeviceOnline
		case "unauthorized":
			info.State = ports.DeviceUnauthorized
		default:
			info.State = ports.DeviceOffline
		}
		for _, field := range fields[2:] {
			if model, ok := strings.CutPrefix(field, "model:"); ok {
				info.Name = strings.ReplaceAll(model, "_", " ")
			}
		}
		if info.Name == "" {
			info.Name = info.ID
		}
		devices = append(devices, info)
	}
	return devices, nil
}

// CaptureScreen grabs a PNG frame via screencap.
func (c *Client) CaptureScreen(ctx context.Context, deviceID string) (*ports.Screenshot, error) {
	out, err := c.run(ctx, deviceID, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, err
	}

	cfg, err := png.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return &ports.Screenshot{PNG: out, Width: cfg.Width, Height: cfg.Height}, nil
}

// ExecuteAction maps a parsed action onto input commands. Coordinates arrive
// on the model's 0..999 grid and are scaled to the screenshot's pixel size.
func (c *Client) ExecuteAction(ctx context.Context, deviceID string, action ports.Action, screen *ports.Screenshot) (string, error) {
	switch action.Kind {
	case ports.ActionTap:
		x, y := scalePoint(action.Element, screen)
		if _, err := c.run(ctx, deviceID, "shell", "input", "tap", itoa(x), itoa(y)); err != nil {
			return "", err
		}
		return fmt.Sprintf("tapped (%d, %d)", x, y), nil

	case ports.ActionDoubleTap:
		x, y := scalePoint(action.Element, screen)
		for i := 0; i < 2; i++ {
			if _, err := c.run(ctx, deviceID, "shell", "input", "tap", itoa(x), itoa(y)); err != nil {
				return "", err
			}
		}
		return fmt.Sprintf("double-tapped (%d, %d)", x, y), nil

	case ports.ActionLongPress:
		x, y := scalePoint(action.Element, screen)
		if _, err := c.run(ctx, deviceID, "shell", "input", "swipe",
			itoa(x), itoa(y), itoa(x), itoa(y), "800"); err != nil {
			return "", err
		}
		return fmt.Sprintf("long-pressed (%d, %d)", x, y), nil

	case ports.ActionSwipe:
		x1, y1 := scalePoint(action.Element, screen)
		x2, y2 := scalePoint(action.End, screen)
		if _, err := c.run(ctx, deviceID, "shell", "input", "swipe",
			itoa(x1), itoa(y1), itoa(x2), itoa(y2), "300"); err != nil {
			return "", err
		}
		return fmt.Sprintf("swiped (%d, %d) -> (%d, %d)", x1, y1, x2, y2), nil

	case ports.ActionType:
		if _, err := c.run(ctx, deviceID, "shell", "input", "text", escapeText(action.Text)); err != nil {
			return "", err
		}
		return fmt.Sprintf("typed %q", action.Text), nil

	case ports.ActionBack:
		if _, err := c.run(ctx, deviceID, "shell", "input", "keyevent", "4"); err != nil {
			return "", err
		}
		return "pressed back", nil

	case ports.ActionHome:
		if _, err := c.run(ctx, deviceID, "shell", "input", "keyevent", "3"); err != nil {
			return "", err
		}
		return "pressed home", nil

	case ports.ActionLaunch:
		if _, err := c.run(ctx, deviceID, "shell", "monkey",
			"-p", action.App, "-c", "android.intent.category.LAUNCHER", "1"); err != nil {
			return "", err
		}
		return fmt.Sprintf("launched %s", action.App), nil

	default:
		return "", fmt.Errorf("action %q is not a device operation", action.Kind)
	}
}

func scalePoint(point []int, screen *ports.Screenshot) (int, int) {
	if len(point) != 2 || screen == nil || screen.Width == 0 || screen.Height == 0 {
		return 0, 0
	}
	return point[0] * screen.Width / ports.CoordinateScale,
		point[1] * screen.Height / ports.CoordinateScale
}

func itoa(n int) string { return fmt.Sprintf("%d", n) }

// escapeText prepares a string for `input text`, which splits on spaces and
// interprets shell metacharacters.
func escapeText(s string) string {
	s = strings.ReplaceAll(s, " ", "%s")
	replacer := strings.NewReplacer(
		"&", `\&`, "<", `\<`, ">", `\>`, "|", `\|`,
		";", `\;`, "(", `\(`, ")", `\)`, "'", `\'`, `"`, `\"`,
	)
	return replacer.Replace(s)
}
