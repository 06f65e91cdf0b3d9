package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"credvault.org/internal/chain"
	"credvault.org/internal/content"
	"credvault.org/internal/registry"
	"credvault.org/internal/stream"
)

const (
	adminAddr    = "0xAdmin"
	issuerAddr   = "0xIssuer"
	holderAddr   = "0xHolder"
	verifierAddr = "0xVerifier"
)

type recordingNotifier struct {
	mu        sync.Mutex
	submitted []string
	confirmed []string
	failed    []string
}

func (n *recordingNotifier) Submitted(_ context.Context, op, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.submitted = append(n.submitted, op)
}

func (n *recordingNotifier) Confirmed(_ context.Context, op, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, op)
}

func (n *recordingNotifier) Failed(_ context.Context, op, _ string, _ error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, op)
}

type fixture struct {
	orch     *Orchestrator
	reg      *registry.InMemory
	store    *content.Memory
	broker   *stream.Broker
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.NewInMemory(adminAddr)
	store := content.NewMemory()
	broker := stream.NewBroker()
	notifier := &recordingNotifier{}
	orch := New(reg, store, chain.NewClient(), broker, WithNotifier(notifier))
	if _, err := orch.RegisterIssuer(context.Background(), adminAddr, issuerAddr); err != nil {
		t.Fatalf("RegisterIssuer: %v", err)
	}
	return &fixture{orch: orch, reg: reg, store: store, broker: broker, notifier: notifier}
}

func issueFixtureCredential(t *testing.T, f *fixture) IssueResult {
	t.Helper()
	res, err := f.orch.IssueCredential(context.Background(), issuerAddr, holderAddr,
		map[string]string{"name": "Alice", "type": "diploma", "course": "Physics", "grade": "A"},
		[]string{"name", "type"})
	if err != nil {
		t.Fatalf("IssueCredential: %v", err)
	}
	return res
}

func TestUploadDocumentPinsAndRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch := f.broker.Subscribe(ctx, 4)

	res, err := f.orch.UploadDocument(ctx, holderAddr, "diploma.pdf", []byte("pdf-bytes"))
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}
	if res.FileCID == "" || res.MetadataCID == "" || res.TxHash == "" {
		t.Fatalf("incomplete result: %+v", res)
	}
	if res.Record.Owner != holderAddr || res.Record.Kind != registry.KindFile {
		t.Fatalf("unexpected record: %+v", res.Record)
	}

	// The metadata envelope points at the raw blob.
	raw, err := f.store.Get(ctx, res.MetadataCID)
	if err != nil {
		t.Fatalf("Get metadata: %v", err)
	}
	var meta struct {
		FileName string `json:"fileName"`
		FileHash string `json:"fileHash"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("metadata not JSON: %v", err)
	}
	if meta.FileName != "diploma.pdf" || meta.FileHash != res.FileCID {
		t.Fatalf("unexpected envelope: %+v", meta)
	}

	select {
	case ev := <-ch:
		if ev.Type != stream.TypeFileUploaded || ev.Hash != res.MetadataCID {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("upload event not published")
	}
}

func TestUploadFailureLeavesNoRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.orch.UploadDocument(ctx, holderAddr, "doc.pdf", []byte("same-bytes"))
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}
	// Identical content produces the same metadata CID and must be refused
	// by the registry, not the content store.
	_, err = f.orch.UploadDocument(ctx, verifierAddr, "doc.pdf", []byte("same-bytes"))
	if !errors.Is(err, registry.ErrDuplicateFile) {
		t.Fatalf("expected ErrDuplicateFile, got %v", err)
	}

	owner, err := f.reg.FileOwner(ctx, first.MetadataCID)
	if err != nil || owner != holderAddr {
		t.Fatalf("original record disturbed: %s, %v", owner, err)
	}
	if !slices.Contains(f.notifier.failed, "upload") {
		t.Fatalf("failed write not reported: %+v", f.notifier.failed)
	}
}

func TestIssueCredentialFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := issueFixtureCredential(t, f)
	if res.Credential.Issuer != issuerAddr || res.Credential.Receiver != holderAddr {
		t.Fatalf("unexpected credential: %+v", res.Credential)
	}

	// The pinned document matches what the registry holds.
	raw, err := f.store.Get(ctx, res.Credential.CID)
	if err != nil {
		t.Fatalf("Get pinned metadata: %v", err)
	}
	if string(raw) != res.Credential.Metadata {
		t.Fatalf("pinned document diverges from registry metadata")
	}

	v, err := f.reg.VerifyCredential(ctx, res.Credential.CID)
	if err != nil || !v.IsValid {
		t.Fatalf("VerifyCredential = %+v, %v", v, err)
	}
	if !slices.Contains(f.notifier.confirmed, "issue") {
		t.Fatalf("issue not confirmed: %+v", f.notifier.confirmed)
	}
}

func TestRevokeFieldRepinsAndRekeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := issueFixtureCredential(t, f)
	out, err := f.orch.RevokeField(ctx, issuerAddr, res.Credential.CID, "grade")
	if err != nil {
		t.Fatalf("RevokeField: %v", err)
	}
	if out.OldCID != res.Credential.CID || out.Credential.CID == res.Credential.CID {
		t.Fatalf("credential was not re-keyed: %+v", out)
	}

	raw, err := f.store.Get(ctx, out.Credential.CID)
	if err != nil {
		t.Fatalf("Get new document: %v", err)
	}
	var meta map[string]string
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("new document not JSON: %v", err)
	}
	if _, ok := meta["grade"]; ok {
		t.Fatal("revoked field still present in pinned document")
	}

	// Old CID keeps resolving through the registry alias.
	details, err := f.reg.CredentialDetails(ctx, res.Credential.CID, nil)
	if err != nil || details.CID != out.Credential.CID {
		t.Fatalf("alias resolution failed: %+v, %v", details, err)
	}

	// Mandatory fields stay protected end to end.
	if _, err := f.orch.RevokeField(ctx, issuerAddr, out.Credential.CID, "name"); !errors.Is(err, registry.ErrFieldMandatory) {
		t.Fatalf("expected ErrFieldMandatory, got %v", err)
	}
}

func TestShareAndSharedView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := issueFixtureCredential(t, f)
	shared, err := f.orch.Share(ctx, holderAddr, res.Credential.CID, verifierAddr, []string{"name", "course"}, time.Hour)
	if err != nil {
		t.Fatalf("Share: %v", err)
	}

	view, grant, err := f.orch.SharedView(ctx, verifierAddr, res.Credential.CID)
	if err != nil {
		t.Fatalf("SharedView: %v", err)
	}
	if grant.ID != shared.Grant.ID {
		t.Fatalf("unexpected grant: %+v", grant)
	}
	if view["name"] != "Alice" || view["course"] != "Physics" {
		t.Fatalf("unexpected view: %v", view)
	}
	if _, ok := view["grade"]; ok {
		t.Fatal("ungranted field leaked")
	}

	// A stranger has no view.
	if _, _, err := f.orch.SharedView(ctx, "0xStranger", res.Credential.CID); !errors.Is(err, registry.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestShareNoopIsRejectedLocally(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := issueFixtureCredential(t, f)
	if _, err := f.orch.Share(ctx, holderAddr, res.Credential.CID, verifierAddr, []string{"name", "course"}, time.Hour); err != nil {
		t.Fatalf("Share: %v", err)
	}

	submitsBefore := len(f.notifier.submitted)
	_, err := f.orch.Share(ctx, holderAddr, res.Credential.CID, verifierAddr, []string{"name"}, time.Hour)
	if !errors.Is(err, ErrShareNoop) {
		t.Fatalf("expected ErrShareNoop, got %v", err)
	}
	if len(f.notifier.submitted) != submitsBefore {
		t.Fatal("no-op share still submitted a write")
	}

	// A superset goes through and merges.
	out, err := f.orch.Share(ctx, holderAddr, res.Credential.CID, verifierAddr, []string{"name", "grade"}, time.Hour)
	if err != nil {
		t.Fatalf("superset share: %v", err)
	}
	if !slices.Contains(out.Grant.AllowedFields, "grade") || !slices.Contains(out.Grant.AllowedFields, "course") {
		t.Fatalf("merge lost fields: %v", out.Grant.AllowedFields)
	}
}

func TestAvailableFieldsFallbacks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := issueFixtureCredential(t, f)
	fields, err := f.orch.AvailableFields(ctx, res.Credential.CID)
	if err != nil {
		t.Fatalf("AvailableFields: %v", err)
	}
	want := []string{"course", "grade", "name", "type"}
	if !slices.Equal(fields, want) {
		t.Fatalf("AvailableFields = %v, want %v", fields, want)
	}

	// Upload bookkeeping keys are never offered; with nothing else and no
	// mandatory fields the fixed default applies.
	upload, err := f.orch.UploadDocument(ctx, holderAddr, "doc.pdf", []byte("bytes"))
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}
	if _, err := f.orch.AvailableFields(ctx, upload.MetadataCID); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("plain uploads are not credentials, got %v", err)
	}

	bare, err := f.orch.IssueCredential(ctx, issuerAddr, holderAddr, map[string]string{"fileName": "x", "fileHash": "y"}, nil)
	if err != nil {
		t.Fatalf("IssueCredential: %v", err)
	}
	fields, err = f.orch.AvailableFields(ctx, bare.Credential.CID)
	if err != nil {
		t.Fatalf("AvailableFields: %v", err)
	}
	if !slices.Equal(fields, []string{"name", "type", "course"}) {
		t.Fatalf("default fallback not applied: %v", fields)
	}
}

func TestDeleteDocumentPublishesAndTombstones(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := issueFixtureCredential(t, f)
	if _, err := f.orch.DeleteDocument(ctx, issuerAddr, res.Credential.CID); !errors.Is(err, registry.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if _, err := f.orch.DeleteDocument(ctx, holderAddr, res.Credential.CID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	details, err := f.reg.CredentialDetails(ctx, res.Credential.CID, nil)
	if err != nil {
		t.Fatalf("CredentialDetails: %v", err)
	}
	if details.Status != registry.StatusDeleted {
		t.Fatalf("expected Deleted status, got %s", details.Status)
	}
}

func TestFetchDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	up, err := f.orch.UploadDocument(ctx, holderAddr, "doc.pdf", []byte("bytes"))
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}
	data, err := f.orch.FetchDocument(ctx, up.MetadataCID)
	if err != nil || len(data) == 0 {
		t.Fatalf("FetchDocument = %q, %v", data, err)
	}

	if _, err := f.orch.DeleteDocument(ctx, holderAddr, up.MetadataCID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, err := f.orch.FetchDocument(ctx, up.MetadataCID); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("tombstoned document still served, err=%v", err)
	}
}

func TestRevokeFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := issueFixtureCredential(t, f)
	if _, err := f.orch.Revoke(ctx, holderAddr, res.Credential.CID); !errors.Is(err, registry.ErrNotIssuer) {
		t.Fatalf("expected ErrNotIssuer, got %v", err)
	}
	if _, err := f.orch.Revoke(ctx, issuerAddr, res.Credential.CID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := f.orch.Revoke(ctx, issuerAddr, res.Credential.CID); !errors.Is(err, registry.ErrAlreadyRevoked) {
		t.Fatalf("expected ErrAlreadyRevoked, got %v", err)
	}

	// Frozen credentials cannot lose further fields.
	if _, err := f.orch.RevokeField(ctx, issuerAddr, res.Credential.CID, "grade"); !errors.Is(err, registry.ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
}

func TestRefreshBuildsPortfolio(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	up, err := f.orch.UploadDocument(ctx, holderAddr, "notes.txt", []byte("plain notes"))
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}
	issued := issueFixtureCredential(t, f)

	// First grant expires immediately, the second stays live, so the refresh
	// sees one of each.
	if _, err := f.orch.Share(ctx, holderAddr, issued.Credential.CID, verifierAddr, []string{"name"}, time.Nanosecond); err != nil {
		t.Fatalf("Share: %v", err)
	}
	if _, err := f.orch.Share(ctx, holderAddr, issued.Credential.CID, verifierAddr, []string{"course"}, time.Hour); err != nil {
		t.Fatalf("re-share: %v", err)
	}

	p, err := f.orch.Refresh(ctx, holderAddr)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(p.Uploaded) != 1 || p.Uploaded[0].Hash != up.MetadataCID {
		t.Fatalf("unexpected uploads: %+v", p.Uploaded)
	}
	if len(p.Received) != 1 || p.Received[0].CID != issued.Credential.CID {
		t.Fatalf("unexpected received credentials: %+v", p.Received)
	}
	if len(p.Issued) != 0 {
		t.Fatalf("holder issued nothing, got %+v", p.Issued)
	}
	if len(p.SharedByMe.Active) != 1 || len(p.SharedByMe.Expired) != 1 {
		t.Fatalf("unexpected given shares: %+v", p.SharedByMe)
	}

	vp, err := f.orch.Refresh(ctx, verifierAddr)
	if err != nil {
		t.Fatalf("Refresh verifier: %v", err)
	}
	if len(vp.SharedWithMe.Active) != 1 || !slices.Contains(vp.SharedWithMe.Active[0].AllowedFields, "course") {
		t.Fatalf("unexpected received shares: %+v", vp.SharedWithMe)
	}

	ip, err := f.orch.Refresh(ctx, issuerAddr)
	if err != nil {
		t.Fatalf("Refresh issuer: %v", err)
	}
	if len(ip.Issued) != 1 || ip.Issued[0].CID != issued.Credential.CID {
		t.Fatalf("unexpected issued list: %+v", ip.Issued)
	}
}
