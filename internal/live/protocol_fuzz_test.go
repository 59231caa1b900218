package live

import (
	"context"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/xkilldash9x/rpa-browser/internal/mocks"
)

func FuzzDecodeCommand(f *testing.F) {
	f.Add([]byte(`{"type":"eval","code":"1"}`))
	f.Add([]byte(`{"type":"navigate","url":"about:blank"}`))
	f.Add([]byte(`{"type":`))

	f.Fuzz(func(t *testing.T, data []byte) {
		// Raw bytes must never panic and always produce a reply.
		page := mocks.NewFakePage("fuzz")
		if reply := Dispatch(context.Background(), page, data); reply.Type == "" {
			t.Fatalf("empty reply type for %q", data)
		}

		var cmd Command
		if err := fuzz.NewConsumer(data).GenerateStruct(&cmd); err != nil {
			return
		}
		raw, err := json.Marshal(cmd)
		if err != nil {
			t.Fatalf("marshal %+v: %v", cmd, err)
		}
		decoded, err := DecodeCommand(raw)
		valid := cmd.Type == CommandEval || (cmd.Type == CommandNavigate && cmd.URL != "")
		if valid != (err == nil) {
			t.Fatalf("command %+v: valid=%v err=%v", cmd, valid, err)
		}
		if err == nil && decoded.Type != cmd.Type {
			t.Fatalf("round trip changed type %q into %q", cmd.Type, decoded.Type)
		}
	})
}
