package handler

import (
	"net/http"
	"testing"

	"github.com/upshift01/upshift-sub003/model"
)

func milestoneTestEnv(t *testing.T) (*testEnv, string, []string) {
	t.Helper()
	env := newTestEnv(t)
	contractID, milestoneIDs := env.createContract(t, []map[string]any{
		{"title": "draft", "amount": 1000},
		{"title": "final", "amount": 2000},
	})
	env.activate(t, contractID)
	return env, contractID, milestoneIDs
}

func milestonePath(contractID, milestoneID, action string) string {
	return "/api/contracts/" + contractID + "/milestones/" + milestoneID + "/" + action
}

func TestMilestoneSubmitEndpoint(t *testing.T) {
	env, contractID, ms := milestoneTestEnv(t)

	w := env.do(t, "con-1", "POST", milestonePath(contractID, ms[0], "submit"), map[string]any{"notes": "first pass"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	milestone := decodeBody(t, w)["milestone"].(map[string]any)
	if milestone["status"] != model.MilestoneSubmitted {
		t.Errorf("Expected submitted, got %v", milestone["status"])
	}
	if milestone["notes"] != "first pass" {
		t.Errorf("Expected notes recorded, got %v", milestone["notes"])
	}
}

func TestMilestoneSubmitEndpointNoBody(t *testing.T) {
	env, contractID, ms := milestoneTestEnv(t)

	// Notes are optional; an empty body submits without them.
	w := env.do(t, "con-1", "POST", milestonePath(contractID, ms[0], "submit"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 without a body, got %d: %s", w.Code, w.Body.String())
	}
}

func TestMilestoneApproveEndpointWrongRole(t *testing.T) {
	env, contractID, ms := milestoneTestEnv(t)

	env.do(t, "con-1", "POST", milestonePath(contractID, ms[0], "submit"), nil)

	w := env.do(t, "con-1", "POST", milestonePath(contractID, ms[0], "approve"), nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["code"] != "unauthorized" {
		t.Errorf("Expected unauthorized code, got %v", body["code"])
	}
	// The error payload carries the milestone's current state.
	state, ok := body["state"].(map[string]any)
	if !ok {
		t.Fatalf("Expected state in error payload, got %s", w.Body.String())
	}
	if state["status"] != model.MilestoneSubmitted {
		t.Errorf("Expected state submitted, got %v", state["status"])
	}
}

func TestMilestoneRejectEndpoint(t *testing.T) {
	env, contractID, ms := milestoneTestEnv(t)

	env.do(t, "con-1", "POST", milestonePath(contractID, ms[0], "submit"), nil)

	w := env.do(t, "emp-1", "POST", milestonePath(contractID, ms[0], "reject"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	milestone := decodeBody(t, w)["milestone"].(map[string]any)
	if milestone["status"] != model.MilestoneInProgress {
		t.Errorf("Expected in_progress after reject, got %v", milestone["status"])
	}
}

func TestMilestonePayEndpoint(t *testing.T) {
	env, contractID, ms := milestoneTestEnv(t)

	env.do(t, "con-1", "POST", milestonePath(contractID, ms[0], "submit"), nil)
	env.do(t, "emp-1", "POST", milestonePath(contractID, ms[0], "approve"), nil)

	w := env.do(t, "emp-1", "POST", milestonePath(contractID, ms[0], "pay"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["status"] != model.SessionPending {
		t.Errorf("Expected pending, got %v", body["status"])
	}
	session := body["session"].(map[string]any)
	if session["milestone_id"] != ms[0] {
		t.Errorf("Expected milestone_id %s, got %v", ms[0], session["milestone_id"])
	}
}

func TestMilestonePayEndpointBeforeApproval(t *testing.T) {
	env, contractID, ms := milestoneTestEnv(t)

	w := env.do(t, "emp-1", "POST", milestonePath(contractID, ms[0], "pay"), nil)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDeliverableEndpointsWithoutStorage(t *testing.T) {
	env, contractID, ms := milestoneTestEnv(t)

	w := env.do(t, "con-1", "GET", milestonePath(contractID, ms[0], "deliverable"), nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without storage, got %d", w.Code)
	}
}
