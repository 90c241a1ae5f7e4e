package dispatch

// WebhookPayload is the slice of the Alertmanager webhook body the
// dispatcher reads. Everything else in the payload is ignored.
type WebhookPayload struct {
	Alerts []Alert `json:"alerts"`
}

// Alert is one alert inside a webhook notification.
type Alert struct {
	Status      string            `json:"status"`
	Annotations map[string]string `json:"annotations"`
}

// noDescription is spoken and texted when a firing alert carries no
// description annotation.
const noDescription = "No data"

// FiringDescriptions returns the description of every firing alert, in
// payload order. Resolved alerts are skipped; a firing alert without a
// description still notifies, with a placeholder.
func FiringDescriptions(p WebhookPayload) []string {
	var out []string
	for _, a := range p.Alerts {
		if a.Status != "firing" {
			continue
		}
		desc := a.Annotations["description"]
		if desc == "" {
			desc = noDescription
		}
		out = append(out, desc)
	}
	return out
}
