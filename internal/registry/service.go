package registry

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"credvault.org/internal/ids"
)

// Service is the authoritative registry for files, credentials, issuers and
// share grants. Every mutating operation takes the caller's wallet address as
// an explicit argument; authorization is decided against stored ownership, not
// transport-level identity.
type Service interface {
	UploadFile(ctx context.Context, caller, fileHash string) (FileRecord, error)
	DeleteFile(ctx context.Context, caller, fileHash string) error
	FileExists(ctx context.Context, fileHash string) (bool, error)
	FileCount(ctx context.Context) (int, error)
	FileOwner(ctx context.Context, fileHash string) (string, error)
	FileTimestamp(ctx context.Context, fileHash string) (time.Time, error)
	UserFiles(ctx context.Context, owner string) ([]FileRecord, error)

	RegisterIssuer(ctx context.Context, caller, address string) error
	IsIssuer(ctx context.Context, address string) (bool, error)

	IssueCredential(ctx context.Context, caller, cid, receiver, metadata, mandatory string) (Credential, error)
	VerifyCredential(ctx context.Context, cid string) (Verification, error)
	CredentialDetails(ctx context.Context, cid string, fieldsToShare []string) (CredentialDetails, error)
	CredentialIssuer(ctx context.Context, cid string) (string, error)
	RevokedFields(ctx context.Context, cid string) ([]string, error)
	MandatoryFields(ctx context.Context, cid string) ([]string, error)
	RevokeCredentialField(ctx context.Context, caller, cid, newCID, field, updatedMetadata string) (Credential, error)
	RevokeCredential(ctx context.Context, caller, cid string) error
	IssuedCredentials(ctx context.Context, issuer string) ([]Credential, error)

	ShareCredential(ctx context.Context, caller, cid, recipient string, allowedFields []string, duration time.Duration) (ShareGrant, error)
	SharedWith(ctx context.Context, recipient string) ([]ShareGrant, error)
	SharedBy(ctx context.Context, owner string) ([]ShareGrant, error)
}

var _ Service = (*InMemory)(nil)

// InMemory is the reference Service implementation. A single RWMutex
// serializes writers, which gives every operation the all-or-nothing
// visibility the lifecycle invariants assume.
type InMemory struct {
	mu    sync.RWMutex
	admin string
	now   func() time.Time

	files   map[string]*FileRecord
	owned   map[string][]string
	creds   map[string]*Credential
	issued  map[string][]string
	issuers map[string]struct{}
	aliases map[string]string
	grants  []*ShareGrant
}

// ServiceOption customizes InMemory construction.
type ServiceOption func(*InMemory)

// WithClock overrides the time source. Used by tests to drive grant expiry.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *InMemory) {
		if now != nil {
			s.now = now
		}
	}
}

// NewInMemory constructs an empty registry. The admin address is the only
// wallet allowed to register issuers.
func NewInMemory(admin string, opts ...ServiceOption) *InMemory {
	s := &InMemory{
		admin:   strings.TrimSpace(admin),
		now:     func() time.Time { return time.Now().UTC() },
		files:   make(map[string]*FileRecord),
		owned:   make(map[string][]string),
		creds:   make(map[string]*Credential),
		issued:  make(map[string][]string),
		issuers: make(map[string]struct{}),
		aliases: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// resolve follows the alias chain from a possibly superseded CID to the
// current one. Callers must hold at least the read lock.
func (s *InMemory) resolve(hash string) string {
	for {
		next, ok := s.aliases[hash]
		if !ok {
			return hash
		}
		hash = next
	}
}

func (s *InMemory) UploadFile(ctx context.Context, caller, fileHash string) (FileRecord, error) {
	caller = strings.TrimSpace(caller)
	fileHash = strings.TrimSpace(fileHash)
	if caller == "" || fileHash == "" {
		return FileRecord{}, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.resolve(fileHash)
	if prev, ok := s.files[key]; ok {
		if !prev.Deleted {
			return FileRecord{}, ErrDuplicateFile
		}
		// Tombstoned hashes may be re-uploaded, possibly by a new owner.
		s.owned[prev.Owner] = removeHash(s.owned[prev.Owner], key)
	}

	rec := &FileRecord{
		Hash:      key,
		Owner:     caller,
		Kind:      KindFile,
		Timestamp: s.now(),
	}
	s.files[key] = rec
	s.owned[caller] = append(s.owned[caller], key)
	return *rec, nil
}

func (s *InMemory) DeleteFile(ctx context.Context, caller, fileHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.resolve(fileHash)
	rec, ok := s.files[key]
	if !ok {
		return ErrNotFound
	}
	if rec.Owner != caller {
		return ErrNotOwner
	}
	if rec.Deleted {
		return ErrAlreadyDeleted
	}
	rec.Deleted = true
	if c, ok := s.creds[key]; ok {
		c.Deleted = true
	}
	return nil
}

func (s *InMemory) FileExists(ctx context.Context, fileHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.files[s.resolve(fileHash)]
	return ok && !rec.Deleted, nil
}

func (s *InMemory) FileCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files), nil
}

func (s *InMemory) FileOwner(ctx context.Context, fileHash string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.files[s.resolve(fileHash)]
	if !ok {
		return "", ErrNotFound
	}
	return rec.Owner, nil
}

func (s *InMemory) FileTimestamp(ctx context.Context, fileHash string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.files[s.resolve(fileHash)]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	return rec.Timestamp, nil
}

// UserFiles lists every live record owned by the wallet, plain uploads and
// credentials alike, in insertion order.
func (s *InMemory) UserFiles(ctx context.Context, owner string) ([]FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hashes := s.owned[owner]
	out := make([]FileRecord, 0, len(hashes))
	for _, h := range hashes {
		rec, ok := s.files[h]
		if !ok || rec.Deleted {
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (s *InMemory) RegisterIssuer(ctx context.Context, caller, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.admin {
		return ErrUnauthorized
	}
	s.issuers[address] = struct{}{}
	return nil
}

func (s *InMemory) IsIssuer(ctx context.Context, address string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.issuers[address]
	return ok, nil
}

func (s *InMemory) IssueCredential(ctx context.Context, caller, cid, receiver, metadata, mandatory string) (Credential, error) {
	cid = strings.TrimSpace(cid)
	receiver = strings.TrimSpace(receiver)
	if cid == "" || receiver == "" {
		return Credential{}, ErrNotFound
	}

	meta, err := ParseMetadata(metadata)
	if err != nil {
		return Credential{}, err
	}
	mandatoryFields, err := ParseMandatoryFields(mandatory)
	if err != nil {
		return Credential{}, err
	}
	for _, f := range mandatoryFields {
		if _, ok := meta[f]; !ok {
			return Credential{}, ErrFieldNotFound
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.issuers[caller]; !ok {
		return Credential{}, ErrNotIssuer
	}
	key := s.resolve(cid)
	if _, ok := s.creds[key]; ok {
		return Credential{}, ErrDuplicateFile
	}
	if rec, ok := s.files[key]; ok && !rec.Deleted {
		return Credential{}, ErrDuplicateFile
	}

	now := s.now()
	cred := &Credential{
		CID:             key,
		Issuer:          caller,
		Receiver:        receiver,
		Metadata:        metadata,
		MandatoryFields: slices.Clone(mandatoryFields),
		Timestamp:       now,
	}
	s.creds[key] = cred
	s.issued[caller] = append(s.issued[caller], key)

	// Credentials surface in the receiver's document listing alongside
	// plain uploads, so issuance also records custody.
	s.files[key] = &FileRecord{
		Hash:      key,
		Owner:     receiver,
		Kind:      KindCredential,
		Timestamp: now,
	}
	s.owned[receiver] = append(s.owned[receiver], key)
	return cloneCredential(cred), nil
}

func (s *InMemory) VerifyCredential(ctx context.Context, cid string) (Verification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.creds[s.resolve(cid)]
	if !ok {
		return Verification{}, ErrNotFound
	}
	return Verification{
		IsValid:  c.Status() == StatusActive,
		Issuer:   c.Issuer,
		Receiver: c.Receiver,
		Metadata: c.Metadata,
	}, nil
}

func (s *InMemory) CredentialDetails(ctx context.Context, cid string, fieldsToShare []string) (CredentialDetails, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.creds[s.resolve(cid)]
	if !ok {
		return CredentialDetails{}, ErrNotFound
	}
	details := CredentialDetails{
		CID:             c.CID,
		Issuer:          c.Issuer,
		Receiver:        c.Receiver,
		Metadata:        c.Metadata,
		MandatoryFields: slices.Clone(c.MandatoryFields),
		RevokedFields:   slices.Clone(c.RevokedFields),
		Status:          c.Status(),
		IsDeleted:       c.Deleted,
		Timestamp:       c.Timestamp,
	}
	if len(fieldsToShare) > 0 {
		meta, err := ParseMetadata(c.Metadata)
		if err != nil {
			return CredentialDetails{}, err
		}
		shared := make(map[string]string, len(fieldsToShare))
		for _, f := range fieldsToShare {
			if v, ok := meta[f]; ok {
				shared[f] = v
			}
		}
		details.SharedMetadata = shared
	}
	return details, nil
}

func (s *InMemory) CredentialIssuer(ctx context.Context, cid string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[s.resolve(cid)]
	if !ok {
		return "", ErrNotFound
	}
	return c.Issuer, nil
}

func (s *InMemory) RevokedFields(ctx context.Context, cid string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[s.resolve(cid)]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(c.RevokedFields), nil
}

func (s *InMemory) MandatoryFields(ctx context.Context, cid string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[s.resolve(cid)]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(c.MandatoryFields), nil
}

// RevokeCredentialField removes one optional field from a credential. The
// record is re-keyed from its current CID to newCID and the old CID is kept
// resolvable through the alias chain, so stale references stay readable.
func (s *InMemory) RevokeCredentialField(ctx context.Context, caller, cid, newCID, field, updatedMetadata string) (Credential, error) {
	newCID = strings.TrimSpace(newCID)
	field = strings.TrimSpace(field)
	if newCID == "" || field == "" {
		return Credential{}, ErrFieldNotFound
	}
	updatedMeta, err := ParseMetadata(updatedMetadata)
	if err != nil {
		return Credential{}, err
	}
	if _, present := updatedMeta[field]; present {
		return Credential{}, ErrInvalidMetadata
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.resolve(cid)
	c, ok := s.creds[cur]
	if !ok {
		return Credential{}, ErrNotFound
	}
	if c.Issuer != caller {
		return Credential{}, ErrNotIssuer
	}
	if c.Status() != StatusActive {
		return Credential{}, ErrNotActive
	}
	if slices.Contains(c.MandatoryFields, field) {
		return Credential{}, ErrFieldMandatory
	}
	currentMeta, err := ParseMetadata(c.Metadata)
	if err != nil {
		return Credential{}, err
	}
	if _, present := currentMeta[field]; !present {
		return Credential{}, ErrFieldNotFound
	}
	if _, ok := s.creds[newCID]; ok || newCID == cur {
		return Credential{}, ErrDuplicateFile
	}
	if rec, ok := s.files[newCID]; ok && !rec.Deleted {
		return Credential{}, ErrDuplicateFile
	}

	delete(s.creds, cur)
	c.CID = newCID
	c.Metadata = updatedMetadata
	c.RevokedFields = append(c.RevokedFields, field)
	s.creds[newCID] = c
	s.aliases[cur] = newCID

	// Grants follow the credential across the re-key.
	for _, g := range s.grants {
		if g.FileHash == cur {
			g.FileHash = newCID
		}
	}

	if rec, ok := s.files[cur]; ok {
		delete(s.files, cur)
		rec.Hash = newCID
		s.files[newCID] = rec
		replaceHash(s.owned[rec.Owner], cur, newCID)
	}
	replaceHash(s.issued[c.Issuer], cur, newCID)
	return cloneCredential(c), nil
}

func (s *InMemory) RevokeCredential(ctx context.Context, caller, cid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.creds[s.resolve(cid)]
	if !ok {
		return ErrNotFound
	}
	if c.Issuer != caller {
		return ErrNotIssuer
	}
	if c.Deleted {
		return ErrNotActive
	}
	if c.Revoked {
		return ErrAlreadyRevoked
	}
	c.Revoked = true
	return nil
}

func (s *InMemory) IssuedCredentials(ctx context.Context, issuer string) ([]Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hashes := s.issued[issuer]
	out := make([]Credential, 0, len(hashes))
	for _, h := range hashes {
		if c, ok := s.creds[h]; ok {
			out = append(out, cloneCredential(c))
		}
	}
	return out, nil
}

// ShareCredential grants the recipient time-boxed read access to the listed
// fields. Re-sharing with an existing valid grant merges the field sets and
// restarts the clock from now plus the new duration.
func (s *InMemory) ShareCredential(ctx context.Context, caller, cid, recipient string, allowedFields []string, duration time.Duration) (ShareGrant, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return ShareGrant{}, ErrNotFound
	}
	if duration <= 0 {
		return ShareGrant{}, ErrInvalidDuration
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.resolve(cid)
	rec, ok := s.files[key]
	if !ok || rec.Deleted {
		return ShareGrant{}, ErrNotFound
	}
	if rec.Owner != caller {
		return ShareGrant{}, ErrNotOwner
	}

	now := s.now()
	for _, g := range s.grants {
		if g.Owner != caller || g.Recipient != recipient || s.resolve(g.FileHash) != key {
			continue
		}
		if !g.Active(now) {
			continue
		}
		for _, f := range allowedFields {
			if !slices.Contains(g.AllowedFields, f) {
				g.AllowedFields = append(g.AllowedFields, f)
			}
		}
		g.Expiration = now.Add(duration)
		return cloneGrant(g), nil
	}

	grant := &ShareGrant{
		ID:            ids.New(),
		FileHash:      key,
		Owner:         caller,
		Recipient:     recipient,
		AllowedFields: slices.Clone(allowedFields),
		Expiration:    now.Add(duration),
		CreatedAt:     now,
	}
	s.grants = append(s.grants, grant)
	return cloneGrant(grant), nil
}

func (s *InMemory) SharedWith(ctx context.Context, recipient string) ([]ShareGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ShareGrant
	for _, g := range s.grants {
		if g.Recipient == recipient {
			out = append(out, cloneGrant(g))
		}
	}
	return out, nil
}

func (s *InMemory) SharedBy(ctx context.Context, owner string) ([]ShareGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ShareGrant
	for _, g := range s.grants {
		if g.Owner == owner {
			out = append(out, cloneGrant(g))
		}
	}
	return out, nil
}

func cloneGrant(g *ShareGrant) ShareGrant {
	out := *g
	out.AllowedFields = slices.Clone(g.AllowedFields)
	return out
}

func cloneCredential(c *Credential) Credential {
	out := *c
	out.MandatoryFields = slices.Clone(c.MandatoryFields)
	out.RevokedFields = slices.Clone(c.RevokedFields)
	return out
}

func removeHash(list []string, hash string) []string {
	for i, h := range list {
		if h == hash {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func replaceHash(list []string, old, new string) {
	for i, h := range list {
		if h == old {
			list[i] = new
		}
	}
}
