package bot

import "testing"

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
		cmd  string
		args []string
		ok   bool
	}{
		{name: "plain", text: "/setup", cmd: "setup", ok: true},
		{name: "with args", text: "/confirm 0xabc", cmd: "confirm", args: []string{"0xabc"}, ok: true},
		{name: "bot suffix", text: "/setup@SafeguardBot", cmd: "setup", ok: true},
		{name: "mixed case", text: "/Trend", cmd: "trend", ok: true},
		{name: "leading space", text: "  /start", cmd: "start", ok: true},
		{name: "not a command", text: "hello", ok: false},
		{name: "bare slash", text: "/", ok: false},
		{name: "empty", text: "", ok: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cmd, args, ok := parseCommand(tt.text)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if cmd != tt.cmd {
				t.Fatalf("cmd = %q, want %q", cmd, tt.cmd)
			}
			if len(args) != len(tt.args) {
				t.Fatalf("args = %v, want %v", args, tt.args)
			}
			for i := range args {
				if args[i] != tt.args[i] {
					t.Fatalf("args = %v, want %v", args, tt.args)
				}
			}
		})
	}
}

func TestSplitCallbackData(t *testing.T) {
	t.Parallel()
	tests := []struct {
		data    string
		action  string
		payload string
	}{
		{data: "verify", action: "verify"},
		{data: "buy:fast", action: "buy", payload: "fast"},
		{data: "buy:", action: "buy"},
		{data: "a:b:c", action: "a", payload: "b:c"},
		{data: "", action: ""},
	}
	for _, tt := range tests {
		action, payload := splitCallbackData(tt.data)
		if action != tt.action || payload != tt.payload {
			t.Fatalf("splitCallbackData(%q) = (%q, %q), want (%q, %q)",
				tt.data, action, payload, tt.action, tt.payload)
		}
	}
}
