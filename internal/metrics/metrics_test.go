package metrics

import "testing"

func TestAutomationSnapshot_CountsAndSorts(t *testing.T) {
	Reset()
	IncDispatch()
	IncDispatch()
	AddMatches(3)
	AddMatches(0)
	IncStoreError()
	IncWebhookFailure()
	IncAction("webhook", "failed")
	IncAction("send_email", "success")
	IncAction("send_email", "success")
	IncAction("", "skipped")

	s := AutomationSnapshot()
	if s.Dispatches != 2 || s.Matches != 3 || s.StoreErrors != 1 || s.WebhookFailures != 1 {
		t.Fatalf("unexpected counters: %+v", s)
	}
	if len(s.Actions) != 3 {
		t.Fatalf("expected 3 action series, got %d", len(s.Actions))
	}
	if s.Actions[0].Type != "send_email" || s.Actions[0].Count != 2 {
		t.Fatalf("unexpected first series: %+v", s.Actions[0])
	}
	if s.Actions[1].Type != "unknown" || s.Actions[1].Status != "skipped" {
		t.Fatalf("unexpected second series: %+v", s.Actions[1])
	}

	Reset()
	if got := AutomationSnapshot(); got.Dispatches != 0 || len(got.Actions) != 0 {
		t.Fatalf("reset did not clear counters: %+v", got)
	}
}
