package dispatch

import (
	"reflect"
	"testing"
)

func TestFiringDescriptions(t *testing.T) {
	cases := []struct {
		name    string
		payload WebhookPayload
		want    []string
	}{
		{
			name: "single firing alert",
			payload: WebhookPayload{Alerts: []Alert{
				{Status: "firing", Annotations: map[string]string{"description": "disk full on db1"}},
			}},
			want: []string{"disk full on db1"},
		},
		{
			name: "resolved alerts are skipped",
			payload: WebhookPayload{Alerts: []Alert{
				{Status: "resolved", Annotations: map[string]string{"description": "cpu cooled down"}},
				{Status: "firing", Annotations: map[string]string{"description": "raid degraded"}},
			}},
			want: []string{"raid degraded"},
		},
		{
			name: "every firing alert notifies",
			payload: WebhookPayload{Alerts: []Alert{
				{Status: "firing", Annotations: map[string]string{"description": "first"}},
				{Status: "firing", Annotations: map[string]string{"description": "second"}},
			}},
			want: []string{"first", "second"},
		},
		{
			name: "missing description gets a placeholder",
			payload: WebhookPayload{Alerts: []Alert{
				{Status: "firing", Annotations: map[string]string{"summary": "no description here"}},
			}},
			want: []string{"No data"},
		},
		{
			name:    "empty payload",
			payload: WebhookPayload{},
			want:    nil,
		},
		{
			name: "nothing firing",
			payload: WebhookPayload{Alerts: []Alert{
				{Status: "resolved", Annotations: map[string]string{"description": "done"}},
			}},
			want: nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := FiringDescriptions(tc.payload)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("FiringDescriptions() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDialablePhone(t *testing.T) {
	if got := DialablePhone("+15550001"); got != "0015550001" {
		t.Errorf("DialablePhone(+15550001) = %q, want 0015550001", got)
	}
	if got := DialablePhone("0015550001"); got != "0015550001" {
		t.Errorf("already-prefixed number changed: %q", got)
	}
}
