// Package orchestrator drives the multi-step flows behind each user action:
// pin content first, then record the result in the registry, then tell
// listeners. The registry is the source of truth; a CID that was pinned but
// never recorded is garbage, never an inconsistency.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"credvault.org/internal/audit"
	"credvault.org/internal/chain"
	"credvault.org/internal/content"
	"credvault.org/internal/obs"
	"credvault.org/internal/redact"
	"credvault.org/internal/registry"
	"credvault.org/internal/stream"
)

// ErrShareNoop indicates a re-share that adds nothing: the recipient already
// holds a live grant covering every requested field.
var ErrShareNoop = errors.New("orchestrator: share adds no new fields")

// Reserved metadata keys used by plain document uploads. They never appear
// in the selectable field list of a credential.
const (
	metaKeyFileName = "fileName"
	metaKeyFileHash = "fileHash"
)

// defaultFields is the last-resort field list offered when a credential
// carries neither usable metadata keys nor mandatory fields.
var defaultFields = []string{"name", "type", "course"}

// Notifier observes the lifecycle of submitted registry writes.
type Notifier interface {
	Submitted(ctx context.Context, op, txHash string)
	Confirmed(ctx context.Context, op, txHash string)
	Failed(ctx context.Context, op, txHash string, err error)
}

// NopNotifier ignores all notifications.
type NopNotifier struct{}

func (NopNotifier) Submitted(context.Context, string, string)     {}
func (NopNotifier) Confirmed(context.Context, string, string)     {}
func (NopNotifier) Failed(context.Context, string, string, error) {}

// Orchestrator owns the write path. Reads go straight to the registry.
type Orchestrator struct {
	reg      registry.Service
	store    content.Store
	client   *chain.Client
	broker   *stream.Broker
	notifier Notifier

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithNotifier installs a write-lifecycle observer.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) {
		if n != nil {
			o.notifier = n
		}
	}
}

// New wires the orchestrator. broker may not be nil; pass a fresh one if no
// consumer subscribes.
func New(reg registry.Service, store content.Store, client *chain.Client, broker *stream.Broker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		reg:      reg,
		store:    store,
		client:   client,
		broker:   broker,
		notifier: NopNotifier{},
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// lockDoc serializes flows touching one document. Re-keying in particular
// must not interleave with a concurrent share or delete against the same CID.
func (o *Orchestrator) lockDoc(hash string) func() {
	o.mu.Lock()
	m, ok := o.locks[hash]
	if !ok {
		m = &sync.Mutex{}
		o.locks[hash] = m
	}
	o.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// submit runs one registry write through the two-phase client and reports its
// lifecycle to the notifier and metrics.
func (o *Orchestrator) submit(ctx context.Context, op string, mutate func(context.Context) error) (string, error) {
	tx, err := o.client.Submit(ctx, op, mutate)
	if err != nil {
		obs.ObserveRegistryOp(op, err)
		return "", err
	}
	o.notifier.Submitted(ctx, op, tx.Hash)

	err = tx.Wait(ctx)
	obs.ObserveRegistryOp(op, err)
	if err != nil {
		o.notifier.Failed(ctx, op, tx.Hash, err)
		return tx.Hash, err
	}
	o.notifier.Confirmed(ctx, op, tx.Hash)
	return tx.Hash, nil
}

// UploadResult reports a completed document upload. The URL fields are set
// only when the content backend exposes a public gateway.
type UploadResult struct {
	FileCID     string              `json:"file_cid"`
	MetadataCID string              `json:"metadata_cid"`
	FileURL     string              `json:"file_url,omitempty"`
	MetadataURL string              `json:"metadata_url,omitempty"`
	Record      registry.FileRecord `json:"record"`
	TxHash      string              `json:"tx_hash"`
}

// documentMetadata is the JSON envelope pinned for every plain upload.
type documentMetadata struct {
	FileName string `json:"fileName"`
	FileHash string `json:"fileHash"`
}

// UploadDocument pins the raw bytes, pins a metadata envelope pointing at
// them, and records the envelope's CID as the document key.
func (o *Orchestrator) UploadDocument(ctx context.Context, caller, fileName string, data []byte) (UploadResult, error) {
	fileCID, err := o.store.PinFile(ctx, fileName, data)
	if err != nil {
		return UploadResult{}, fmt.Errorf("pin file: %w", err)
	}
	metaCID, err := o.store.PinJSON(ctx, fileName+".meta", documentMetadata{FileName: fileName, FileHash: fileCID})
	if err != nil {
		return UploadResult{}, fmt.Errorf("pin metadata: %w", err)
	}

	var rec registry.FileRecord
	txHash, err := o.submit(ctx, "upload", func(ctx context.Context) error {
		var err error
		rec, err = o.reg.UploadFile(ctx, caller, metaCID)
		return err
	})
	if err != nil {
		return UploadResult{}, err
	}

	_ = audit.LogEvent(ctx, "file.upload", map[string]any{"hash": metaCID, "tx": txHash})
	o.broker.Publish(stream.Event{
		Type:   stream.TypeFileUploaded,
		Hash:   metaCID,
		Actor:  caller,
		TxHash: txHash,
	})
	res := UploadResult{FileCID: fileCID, MetadataCID: metaCID, Record: rec, TxHash: txHash}
	if g, ok := o.store.(content.Gateway); ok {
		res.FileURL = g.GatewayURL(fileCID)
		res.MetadataURL = g.GatewayURL(metaCID)
	}
	return res, nil
}

// DeleteDocument tombstones the record. Pinned content is left in place;
// nothing references it once the registry entry is gone.
func (o *Orchestrator) DeleteDocument(ctx context.Context, caller, hash string) (string, error) {
	unlock := o.lockDoc(hash)
	defer unlock()

	txHash, err := o.submit(ctx, "delete", func(ctx context.Context) error {
		return o.reg.DeleteFile(ctx, caller, hash)
	})
	if err != nil {
		return txHash, err
	}

	_ = audit.LogEvent(ctx, "file.delete", map[string]any{"hash": hash, "tx": txHash})
	o.broker.Publish(stream.Event{
		Type:   stream.TypeFileDeleted,
		Hash:   hash,
		Actor:  caller,
		TxHash: txHash,
	})
	return txHash, nil
}

// RegisterIssuer grants issuance rights to an address. Admin only.
func (o *Orchestrator) RegisterIssuer(ctx context.Context, caller, address string) (string, error) {
	txHash, err := o.submit(ctx, "register_issuer", func(ctx context.Context) error {
		return o.reg.RegisterIssuer(ctx, caller, address)
	})
	if err != nil {
		return txHash, err
	}

	_ = audit.LogEvent(ctx, "issuer.register", map[string]any{"address": address, "tx": txHash})
	o.broker.Publish(stream.Event{
		Type:    stream.TypeIssuerRegistered,
		Actor:   caller,
		TxHash:  txHash,
		Details: map[string]string{"address": address},
	})
	return txHash, nil
}

// IssueResult reports a completed issuance.
type IssueResult struct {
	Credential registry.Credential `json:"credential"`
	TxHash     string              `json:"tx_hash"`
}

// IssueCredential pins the metadata document and records the credential
// under its CID.
func (o *Orchestrator) IssueCredential(ctx context.Context, issuer, receiver string, metadata map[string]string, mandatoryFields []string) (IssueResult, error) {
	if len(metadata) == 0 {
		return IssueResult{}, registry.ErrInvalidMetadata
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return IssueResult{}, fmt.Errorf("%w: %v", registry.ErrInvalidMetadata, err)
	}
	cid, err := o.store.PinJSON(ctx, "credential.meta", json.RawMessage(raw))
	if err != nil {
		return IssueResult{}, fmt.Errorf("pin metadata: %w", err)
	}

	var cred registry.Credential
	txHash, err := o.submit(ctx, "issue", func(ctx context.Context) error {
		var err error
		cred, err = o.reg.IssueCredential(ctx, issuer, cid, receiver, string(raw), registry.EncodeMandatoryFields(mandatoryFields))
		return err
	})
	if err != nil {
		return IssueResult{}, err
	}

	_ = audit.LogEvent(ctx, "credential.issue", map[string]any{"cid": cid, "receiver": receiver, "tx": txHash})
	o.broker.Publish(stream.Event{
		Type:    stream.TypeCredentialIssued,
		Hash:    cid,
		Actor:   issuer,
		TxHash:  txHash,
		Details: map[string]string{"receiver": receiver},
	})
	return IssueResult{Credential: cred, TxHash: txHash}, nil
}

// RevokeFieldResult reports a completed field revocation.
type RevokeFieldResult struct {
	Credential registry.Credential `json:"credential"`
	OldCID     string              `json:"old_cid"`
	TxHash     string              `json:"tx_hash"`
}

// RevokeField removes one optional field: the surviving metadata is pinned
// as a new document and the credential is re-keyed to its CID.
func (o *Orchestrator) RevokeField(ctx context.Context, issuer, cid, field string) (RevokeFieldResult, error) {
	unlock := o.lockDoc(cid)
	defer unlock()

	details, err := o.reg.CredentialDetails(ctx, cid, nil)
	if err != nil {
		return RevokeFieldResult{}, err
	}
	meta, err := registry.ParseMetadata(details.Metadata)
	if err != nil {
		return RevokeFieldResult{}, err
	}
	if _, ok := meta[field]; !ok {
		return RevokeFieldResult{}, registry.ErrFieldNotFound
	}
	updated := redact.Remove(meta, field)
	raw, err := json.Marshal(updated)
	if err != nil {
		return RevokeFieldResult{}, fmt.Errorf("%w: %v", registry.ErrInvalidMetadata, err)
	}
	newCID, err := o.store.PinJSON(ctx, "credential.meta", json.RawMessage(raw))
	if err != nil {
		return RevokeFieldResult{}, fmt.Errorf("pin metadata: %w", err)
	}

	var cred registry.Credential
	txHash, err := o.submit(ctx, "revoke_field", func(ctx context.Context) error {
		var err error
		cred, err = o.reg.RevokeCredentialField(ctx, issuer, details.CID, newCID, field, string(raw))
		return err
	})
	if err != nil {
		return RevokeFieldResult{}, err
	}

	_ = audit.LogEvent(ctx, "credential.revoke_field", map[string]any{
		"cid": details.CID, "new_cid": newCID, "field": field, "tx": txHash,
	})
	o.broker.Publish(stream.Event{
		Type:    stream.TypeCredentialFieldRevoked,
		Hash:    newCID,
		Actor:   issuer,
		TxHash:  txHash,
		Details: map[string]string{"old_cid": details.CID, "field": field},
	})
	return RevokeFieldResult{Credential: cred, OldCID: details.CID, TxHash: txHash}, nil
}

// Revoke invalidates the whole credential.
func (o *Orchestrator) Revoke(ctx context.Context, issuer, cid string) (string, error) {
	unlock := o.lockDoc(cid)
	defer unlock()

	txHash, err := o.submit(ctx, "revoke", func(ctx context.Context) error {
		return o.reg.RevokeCredential(ctx, issuer, cid)
	})
	if err != nil {
		return txHash, err
	}

	_ = audit.LogEvent(ctx, "credential.revoke", map[string]any{"cid": cid, "tx": txHash})
	o.broker.Publish(stream.Event{
		Type:   stream.TypeCredentialRevoked,
		Hash:   cid,
		Actor:  issuer,
		TxHash: txHash,
	})
	return txHash, nil
}

// ShareResult reports a created or merged grant.
type ShareResult struct {
	Grant  registry.ShareGrant `json:"grant"`
	TxHash string              `json:"tx_hash"`
}

// Share grants time-boxed, field-scoped access. A request whose field set is
// already fully covered by a live grant for the same recipient is rejected
// before anything is written.
func (o *Orchestrator) Share(ctx context.Context, owner, cid, recipient string, fields []string, duration time.Duration) (ShareResult, error) {
	unlock := o.lockDoc(cid)
	defer unlock()

	if len(fields) > 0 {
		existing, err := o.reg.SharedBy(ctx, owner)
		if err != nil {
			return ShareResult{}, err
		}
		now := time.Now().UTC()
		for _, g := range existing {
			if g.Recipient != recipient || !g.Active(now) {
				continue
			}
			if !sameDocument(g.FileHash, cid) {
				continue
			}
			covered := true
			for _, f := range fields {
				if !slices.Contains(g.AllowedFields, f) {
					covered = false
					break
				}
			}
			if covered {
				return ShareResult{}, ErrShareNoop
			}
		}
	}

	var grant registry.ShareGrant
	txHash, err := o.submit(ctx, "share", func(ctx context.Context) error {
		var err error
		grant, err = o.reg.ShareCredential(ctx, owner, cid, recipient, fields, duration)
		return err
	})
	if err != nil {
		return ShareResult{}, err
	}

	_ = audit.LogEvent(ctx, "credential.share", map[string]any{
		"cid": cid, "recipient": recipient, "fields": fields, "tx": txHash,
	})
	o.broker.Publish(stream.Event{
		Type:    stream.TypeCredentialShared,
		Hash:    grant.FileHash,
		Actor:   owner,
		TxHash:  txHash,
		Details: map[string]string{"recipient": recipient},
	})
	return ShareResult{Grant: grant, TxHash: txHash}, nil
}

// sameDocument compares hashes directly. Grants track the current CID after
// a re-key, so equality on the stored hash is sufficient here; deeper alias
// resolution happens inside the registry.
func sameDocument(a, b string) bool {
	return a == b
}

// SharedView resolves the recipient's live grant for the document and
// returns the metadata narrowed to the granted fields.
func (o *Orchestrator) SharedView(ctx context.Context, recipient, cid string) (map[string]string, registry.ShareGrant, error) {
	grants, err := o.reg.SharedWith(ctx, recipient)
	if err != nil {
		return nil, registry.ShareGrant{}, err
	}
	details, err := o.reg.CredentialDetails(ctx, cid, nil)
	if err != nil {
		return nil, registry.ShareGrant{}, err
	}

	now := time.Now().UTC()
	for _, g := range grants {
		if !g.Active(now) || !sameDocument(g.FileHash, details.CID) {
			continue
		}
		meta, err := registry.ParseMetadata(details.Metadata)
		if err != nil {
			return nil, registry.ShareGrant{}, err
		}
		return redact.Filter(meta, g.AllowedFields), g, nil
	}
	return nil, registry.ShareGrant{}, registry.ErrUnauthorized
}

// AvailableFields lists the field names an owner can offer when sharing:
// the credential's metadata keys minus upload bookkeeping, falling back to
// the mandatory list and then to a fixed default.
func (o *Orchestrator) AvailableFields(ctx context.Context, cid string) ([]string, error) {
	details, err := o.reg.CredentialDetails(ctx, cid, nil)
	if err != nil {
		return nil, err
	}
	meta, err := registry.ParseMetadata(details.Metadata)
	if err != nil {
		return nil, err
	}

	fields := make([]string, 0, len(meta))
	for _, k := range redact.Fields(meta) {
		if k == metaKeyFileName || k == metaKeyFileHash {
			continue
		}
		fields = append(fields, k)
	}
	if len(fields) > 0 {
		return fields, nil
	}
	if len(details.MandatoryFields) > 0 {
		return slices.Clone(details.MandatoryFields), nil
	}
	return slices.Clone(defaultFields), nil
}

// Portfolio is the caller's full read model, rebuilt wholesale on every
// refresh rather than patched incrementally.
type Portfolio struct {
	Uploaded     []registry.FileRecord        `json:"uploaded"`
	Received     []registry.CredentialDetails `json:"received"`
	Issued       []registry.Credential        `json:"issued"`
	SharedWithMe ShareList                    `json:"shared_with_me"`
	SharedByMe   ShareList                    `json:"shared_by_me"`
}

// ShareList splits grants by validity at refresh time. Expired grants stay
// listed; expiry never writes anything.
type ShareList struct {
	Active  []registry.ShareGrant `json:"active"`
	Expired []registry.ShareGrant `json:"expired"`
}

// Refresh rebuilds the caller's portfolio. A credential that fails to load is
// skipped; the rest of the refresh still succeeds.
func (o *Orchestrator) Refresh(ctx context.Context, owner string) (Portfolio, error) {
	files, err := o.reg.UserFiles(ctx, owner)
	if err != nil {
		return Portfolio{}, err
	}

	var p Portfolio
	for _, rec := range files {
		switch rec.Kind {
		case registry.KindCredential:
			details, err := o.reg.CredentialDetails(ctx, rec.Hash, nil)
			if err != nil {
				continue
			}
			p.Received = append(p.Received, details)
		default:
			p.Uploaded = append(p.Uploaded, rec)
		}
	}

	issued, err := o.reg.IssuedCredentials(ctx, owner)
	if err != nil {
		return Portfolio{}, err
	}
	p.Issued = issued

	now := time.Now().UTC()
	received, err := o.reg.SharedWith(ctx, owner)
	if err != nil {
		return Portfolio{}, err
	}
	p.SharedWithMe = splitShares(received, now)

	given, err := o.reg.SharedBy(ctx, owner)
	if err != nil {
		return Portfolio{}, err
	}
	p.SharedByMe = splitShares(given, now)
	return p, nil
}

func splitShares(grants []registry.ShareGrant, now time.Time) ShareList {
	var list ShareList
	for _, g := range grants {
		if g.Active(now) {
			list.Active = append(list.Active, g)
		} else {
			list.Expired = append(list.Expired, g)
		}
	}
	return list
}

// FetchDocument returns the pinned bytes behind a registry record after
// confirming the record exists and is not tombstoned.
func (o *Orchestrator) FetchDocument(ctx context.Context, hash string) ([]byte, error) {
	exists, err := o.reg.FileExists(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, registry.ErrNotFound
	}
	return o.store.Get(ctx, hash)
}
