package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/holiman/uint256"

	"github.com/kapilsinha/privadex/internal/chain"
	"github.com/kapilsinha/privadex/internal/coordinator"
	"github.com/kapilsinha/privadex/internal/driver"
	"github.com/kapilsinha/privadex/internal/plan"
	"github.com/kapilsinha/privadex/internal/storage/mysql"
)

func testService(t *testing.T) (*driver.Service, *plan.ExecutionPlan) {
	t.Helper()
	repo := mysql.NewMemoryPlanRepository()
	assigner := coordinator.NewPlanAssigner(coordinator.NewMemoryStore(), 0)

	var user, escrow chain.EthAddress
	user[0], escrow[0] = 0xaa, 0xee
	escrowLookup := func(chain.ID) (chain.Address, bool) {
		return chain.NewEthAddress(escrow), true
	}
	service := driver.NewService(repo, assigner, nil, escrowLookup)

	prestart := plan.NewEthStep(plan.KindEthSend, plan.CommonMeta{
		SrcAddr: chain.NewEthAddress(user), DestAddr: chain.NewEthAddress(escrow), SrcChain: 1,
	})
	prestart.AmountIn = uint256.NewInt(10)
	prestart.Eth.Phase = plan.EthSubmitted
	prestart.Eth.TxHash[0] = 0x33

	// Bare transfers may not sit inside paths; use a wrap for the body.
	wrap := plan.NewEthStep(plan.KindWrap, plan.CommonMeta{
		SrcAddr: chain.NewEthAddress(escrow), DestAddr: chain.NewEthAddress(escrow), SrcChain: 1,
	})
	wrap.AmountIn = uint256.NewInt(10)

	postend := plan.NewEthStep(plan.KindEthSend, plan.CommonMeta{
		SrcAddr: chain.NewEthAddress(escrow), DestAddr: chain.NewEthAddress(user), SrcChain: 1,
	})
	p := &plan.ExecutionPlan{
		ID:           chain.NewPlanID(),
		UserSrcAddr:  chain.NewEthAddress(user),
		UserDestAddr: chain.NewEthAddress(user),
		Prestart:     prestart,
		Paths:        []*plan.Path{{Steps: []*plan.Step{wrap}}},
		Postend:      postend,
		Status:       plan.NotStarted,
	}
	if err := service.Register(context.Background(), p); err != nil {
		t.Fatalf("register plan: %v", err)
	}
	return service, p
}

func TestListPlans(t *testing.T) {
	service, p := testService(t)
	server := NewServer(":0", service)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/plans", nil)
	rec := httptest.NewRecorder()
	server.handlePlans(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snaps []plan.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snaps); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snaps) != 1 || snaps[0].ID != p.ID {
		t.Fatalf("unexpected listing: %+v", snaps)
	}
}

func TestGetPlanByID(t *testing.T) {
	service, p := testService(t)
	server := NewServer(":0", service)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/plans/"+p.ID.String(), nil)
	rec := httptest.NewRecorder()
	server.handlePlan(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var snap plan.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.ID != p.ID {
		t.Fatalf("snapshot id = %s, want %s", snap.ID, p.ID)
	}
}

func TestGetPlanRejectsBadRequests(t *testing.T) {
	service, _ := testService(t)
	server := NewServer(":0", service)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/plans/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	server.handlePlan(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed id status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/plans/00000000-0000-0000-0000-000000000001", nil)
	rec = httptest.NewRecorder()
	server.handlePlan(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown plan status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/plans", nil)
	rec = httptest.NewRecorder()
	server.handlePlans(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST status = %d", rec.Code)
	}
}
