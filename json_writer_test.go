package gridledger

import (
	"testing"
)

func TestJsonObjectWriter(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *jsonObjectWriter)
		want  string
	}{
		{"empty", func(w *jsonObjectWriter) {}, `{}`},
		{"ordered", func(w *jsonObjectWriter) {
			w.Append("id", "B1").Append("amount", Q(0.01)).Append("price", USDT(50000))
		}, `{"id":"B1","amount":0.01,"price":{"currency":"USDT","amount":50000}}`},
		{"optional skipped", func(w *jsonObjectWriter) {
			w.Append("id", "B1").Optional("verified", false).Optional("reason", "")
		}, `{"id":"B1"}`},
		{"optional kept", func(w *jsonObjectWriter) {
			w.Optional("verified", true).Append("id", "B1")
		}, `{"verified":true,"id":"B1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var w jsonObjectWriter
			tt.write(&w)
			got, err := w.MarshalJSON()
			if err != nil {
				t.Fatalf("MarshalJSON() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("MarshalJSON() = %s, want %s", got, tt.want)
			}
		})
	}

	t.Run("error", func(t *testing.T) {
		var w jsonObjectWriter
		w.Append("bad", make(chan int)).Append("id", "B1")
		if _, err := w.MarshalJSON(); err == nil {
			t.Error("MarshalJSON() should fail on a channel value")
		}
	})
}
