package validate

import (
	"context"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/google/uuid"
	totplib "github.com/pquerna/otp/totp"

	"credential-server/backend/internal/audit"
	chdomain "credential-server/backend/internal/challenge/domain"
	challengerepo "credential-server/backend/internal/challenge/repository"
	gwdomain "credential-server/backend/internal/gateway/domain"
	policydomain "credential-server/backend/internal/policy/domain"
	policyengine "credential-server/backend/internal/policy/engine"
	"credential-server/backend/internal/security"
	"credential-server/backend/internal/token"
	"credential-server/backend/internal/token/domain"
	"credential-server/backend/internal/token/push"
	"credential-server/backend/internal/token/totp"
)

type memTokens struct {
	bySerial map[string]*domain.Token
}

func (m *memTokens) GetBySerial(ctx context.Context, serial string) (*domain.Token, error) {
	return m.bySerial[serial], nil
}

func (m *memTokens) GetByOwner(ctx context.Context, user, realm string) ([]*domain.Token, error) {
	var out []*domain.Token
	for _, t := range m.bySerial {
		if t.OwnerUser == user && t.OwnerRealm == realm {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTokens) Create(ctx context.Context, t *domain.Token) error {
	m.bySerial[t.Serial] = t
	return nil
}

func (m *memTokens) Update(ctx context.Context, t *domain.Token) error {
	m.bySerial[t.Serial] = t
	return nil
}

func (m *memTokens) CompleteEnrollment(ctx context.Context, t *domain.Token) (bool, error) {
	cur, ok := m.bySerial[t.Serial]
	if !ok || cur.RolloutState != domain.RolloutClientWait {
		return false, nil
	}
	m.bySerial[t.Serial] = t
	return true, nil
}

func (m *memTokens) Delete(ctx context.Context, serial string) error {
	delete(m.bySerial, serial)
	return nil
}

type memChallenges struct {
	items []*chdomain.Challenge
}

func (m *memChallenges) Create(ctx context.Context, serial, message string, ttl time.Duration) (*chdomain.Challenge, error) {
	txid, err := challengerepo.NewTransactionID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	c := &chdomain.Challenge{
		ID:            uuid.New().String(),
		TransactionID: txid,
		Serial:        serial,
		Message:       message,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
	m.items = append(m.items, c)
	return c, nil
}

func (m *memChallenges) Get(ctx context.Context, serial, transactionID string) ([]*chdomain.Challenge, error) {
	if serial == "" && transactionID == "" {
		return nil, challengerepo.ErrNoFilter
	}
	var out []*chdomain.Challenge
	for _, c := range m.items {
		if serial != "" && c.Serial != serial {
			continue
		}
		if transactionID != "" && c.TransactionID != transactionID {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *memChallenges) SetAnswer(ctx context.Context, transactionID string, value bool) error {
	now := time.Now().UTC()
	for _, c := range m.items {
		if c.TransactionID == transactionID && !c.Answered && !c.Expired(now) {
			c.Answered = true
			c.Answer = value
		}
	}
	return nil
}

func (m *memChallenges) DeleteByTransactionID(ctx context.Context, transactionID string) error {
	var kept []*chdomain.Challenge
	for _, c := range m.items {
		if c.TransactionID != transactionID {
			kept = append(kept, c)
		}
	}
	m.items = kept
	return nil
}

func (m *memChallenges) DeleteBySerial(ctx context.Context, serial string) error {
	var kept []*chdomain.Challenge
	for _, c := range m.items {
		if c.Serial != serial {
			kept = append(kept, c)
		}
	}
	m.items = kept
	return nil
}

type memGateways struct {
	byName map[string]*gwdomain.Gateway
}

func (m *memGateways) GetByName(ctx context.Context, name string) (*gwdomain.Gateway, error) {
	return m.byName[name], nil
}

func (m *memGateways) Create(ctx context.Context, g *gwdomain.Gateway) error {
	m.byName[g.Name] = g
	return nil
}

func (m *memGateways) Delete(ctx context.Context, name string) error {
	delete(m.byName, name)
	return nil
}

type stubPolicies struct {
	byScope map[string]map[string]string
}

func (s *stubPolicies) Resolve(ctx context.Context, scope string, req policyengine.Request) (map[string]string, error) {
	if actions, ok := s.byScope[scope]; ok {
		return actions, nil
	}
	return map[string]string{}, nil
}

type recordSender struct {
	sent int
}

func (r *recordSender) Send(ctx context.Context, address string, payload map[string]string, gw *gwdomain.Gateway) error {
	r.sent++
	return nil
}

type fixture struct {
	svc        *Service
	tokens     *memTokens
	challenges *memChallenges
	pushVar    *push.Variant
	hasher     *security.Hasher
	sender     *recordSender
}

func newFixture(t *testing.T, authActions map[string]string) *fixture {
	t.Helper()
	tokens := &memTokens{bySerial: make(map[string]*domain.Token)}
	challenges := &memChallenges{}
	gateways := &memGateways{byName: map[string]*gwdomain.Gateway{
		"fb1": {
			ID:       uuid.New().String(),
			Name:     "fb1",
			Provider: "firebase",
			Options: map[string]string{
				gwdomain.OptionRegistrationURL: "https://mfa.example.com/ttype/push",
				gwdomain.OptionAPIKey:          "k",
			},
		},
	}}
	policies := &stubPolicies{byScope: map[string]map[string]string{
		policydomain.ScopeEnrollment:     {policydomain.ActionFirebaseConfig: "fb1"},
		policydomain.ScopeAuthentication: authActions,
	}}
	sender := &recordSender{}
	hasher := security.NewHasher(4)
	pushVar := push.New(tokens, challenges, gateways, policies, sender, push.Config{
		KeyBits:      1024,
		ChallengeTTL: 2 * time.Minute,
	})
	totpVar := totp.New(tokens, "")
	engine := token.NewEngine(tokens, hasher, pushVar, totpVar)
	svc := NewService(engine, challenges, hasher, policies, audit.Nop())
	return &fixture{svc: svc, tokens: tokens, challenges: challenges, pushVar: pushVar, hasher: hasher, sender: sender}
}

func (f *fixture) addPushToken(t *testing.T, serial, pin string) (*domain.Token, string) {
	t.Helper()
	now := time.Now().UTC()
	tok := &domain.Token{
		ID:           uuid.New().String(),
		Serial:       serial,
		Type:         push.TokenType,
		RolloutState: domain.RolloutNotStarted,
		OwnerUser:    "cornelius",
		OwnerRealm:   "realm1",
		Info:         make(map[string]string),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if pin != "" {
		hash, err := f.hasher.Hash([]byte(pin))
		if err != nil {
			t.Fatal(err)
		}
		tok.PINHash = hash
	}
	if err := f.tokens.Create(context.Background(), tok); err != nil {
		t.Fatal(err)
	}
	if err := f.pushVar.BeginEnrollment(context.Background(), tok, token.Params{}); err != nil {
		t.Fatal(err)
	}
	devPriv, err := security.GenerateKeypair(1024)
	if err != nil {
		t.Fatal(err)
	}
	err = f.pushVar.ContinueEnrollment(context.Background(), tok, token.Params{
		"serial":                serial,
		"enrollment_credential": tok.GetInfo(domain.InfoEnrollmentCredential),
		"fbtoken":               "fbtok",
		"pubkey":                security.PublicKeyBase64(&devPriv.PublicKey),
	})
	if err != nil {
		t.Fatal(err)
	}
	// CompleteEnrollment stores the staged copy; re-fetch so callers mutate
	// the record the repository actually holds.
	tok = f.tokens.bySerial[serial]
	privPEM := security.EncodePrivateKeyPEM(devPriv)
	return tok, privPEM
}

func (f *fixture) addTOTPToken(t *testing.T, serial, pin string) *domain.Token {
	t.Helper()
	now := time.Now().UTC()
	tok := &domain.Token{
		ID:           uuid.New().String(),
		Serial:       serial,
		Type:         totp.TokenType,
		RolloutState: domain.RolloutNotStarted,
		OwnerUser:    "selfservice",
		OwnerRealm:   "realm1",
		Info:         make(map[string]string),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if pin != "" {
		hash, err := f.hasher.Hash([]byte(pin))
		if err != nil {
			t.Fatal(err)
		}
		tok.PINHash = hash
	}
	if err := f.tokens.Create(context.Background(), tok); err != nil {
		t.Fatal(err)
	}
	v := totp.New(f.tokens, "")
	if err := v.BeginEnrollment(context.Background(), tok, token.Params{}); err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestCheckPushTriggersChallenge(t *testing.T) {
	f := newFixture(t, nil)
	tok, _ := f.addPushToken(t, "PUSH001", "1234")

	res, err := f.svc.Check(context.Background(), Request{User: "cornelius", Realm: "realm1", Pass: "1234"})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Authenticated {
		t.Error("authenticated before confirmation")
	}
	if res.TransactionID == "" {
		t.Fatal("no transaction id returned")
	}
	if res.Serial != tok.Serial {
		t.Errorf("serial = %q", res.Serial)
	}
	if res.Message != push.DefaultMessage {
		t.Errorf("message = %q", res.Message)
	}
	if f.sender.sent != 1 {
		t.Errorf("notifications sent = %d, want 1", f.sender.sent)
	}
}

func TestCheckPushWrongPIN(t *testing.T) {
	f := newFixture(t, nil)
	f.addPushToken(t, "PUSH001", "1234")

	res, err := f.svc.Check(context.Background(), Request{User: "cornelius", Realm: "realm1", Pass: "9999"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Authenticated || res.TransactionID != "" {
		t.Errorf("result = %+v, want rejected without challenge", res)
	}
	if len(f.challenges.items) != 0 {
		t.Error("challenge created despite wrong PIN")
	}
	if f.sender.sent != 0 {
		t.Error("notification sent despite wrong PIN")
	}
}

func TestCheckNoTokens(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.svc.Check(context.Background(), Request{User: "nobody", Realm: "realm1", Pass: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Authenticated || res.Message != MsgNoToken {
		t.Errorf("result = %+v", res)
	}
}

func TestPollLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	tok, devPEM := f.addPushToken(t, "PUSH001", "1234")

	res, err := f.svc.Check(context.Background(), Request{User: "cornelius", Realm: "realm1", Pass: "1234"})
	if err != nil {
		t.Fatal(err)
	}
	txid := res.TransactionID

	// Unconfirmed poll: pending, not authenticated, and side-effect free.
	poll, err := f.svc.Check(context.Background(), Request{TransactionID: txid})
	if err != nil {
		t.Fatal(err)
	}
	if poll.Authenticated {
		t.Error("authenticated before device confirmation")
	}

	// Device confirms with a signature over nonce|serial.
	devKey, err := security.ParsePrivateKey(devPEM)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := security.Sign(devKey.(*rsa.PrivateKey), []byte(txid+"|"+tok.Serial))
	if err != nil {
		t.Fatal(err)
	}
	if err := f.pushVar.ConfirmAnswer(context.Background(), tok, txid, sig); err != nil {
		t.Fatalf("ConfirmAnswer: %v", err)
	}

	poll, err = f.svc.Check(context.Background(), Request{TransactionID: txid})
	if err != nil {
		t.Fatal(err)
	}
	if !poll.Authenticated {
		t.Error("not authenticated after confirmation")
	}
	if poll.Serial != tok.Serial || poll.TransactionID != txid {
		t.Errorf("poll result = %+v", poll)
	}
}

// A confirmed transaction id authenticates exactly once; the challenge is
// consumed when the outcome is delivered.
func TestPollConfirmedChallengeSingleUse(t *testing.T) {
	f := newFixture(t, nil)
	tok, devPEM := f.addPushToken(t, "PUSH001", "1234")

	res, err := f.svc.Check(context.Background(), Request{User: "cornelius", Realm: "realm1", Pass: "1234"})
	if err != nil {
		t.Fatal(err)
	}
	txid := res.TransactionID

	devKey, err := security.ParsePrivateKey(devPEM)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := security.Sign(devKey.(*rsa.PrivateKey), []byte(txid+"|"+tok.Serial))
	if err != nil {
		t.Fatal(err)
	}
	if err := f.pushVar.ConfirmAnswer(context.Background(), tok, txid, sig); err != nil {
		t.Fatalf("ConfirmAnswer: %v", err)
	}

	poll, err := f.svc.Check(context.Background(), Request{TransactionID: txid})
	if err != nil {
		t.Fatal(err)
	}
	if !poll.Authenticated {
		t.Fatal("not authenticated after confirmation")
	}
	if len(f.challenges.items) != 0 {
		t.Errorf("%d challenges remain after confirmed poll, want 0", len(f.challenges.items))
	}

	// Replaying the same transaction id must not authenticate again.
	replay, err := f.svc.Check(context.Background(), Request{TransactionID: txid})
	if err != nil {
		t.Fatal(err)
	}
	if replay.Authenticated {
		t.Error("replayed transaction id authenticated again")
	}
}

func TestPollExpiredIsTerminal(t *testing.T) {
	f := newFixture(t, nil)
	tok, devPEM := f.addPushToken(t, "PUSH001", "")

	res, err := f.svc.Check(context.Background(), Request{Serial: tok.Serial, Pass: ""})
	if err != nil {
		t.Fatal(err)
	}
	txid := res.TransactionID
	for _, c := range f.challenges.items {
		c.ExpiresAt = time.Now().UTC().Add(-time.Second)
	}

	// A late confirmation does not land.
	devKey, err := security.ParsePrivateKey(devPEM)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := security.Sign(devKey.(*rsa.PrivateKey), []byte(txid+"|"+tok.Serial))
	if err != nil {
		t.Fatal(err)
	}
	_ = f.pushVar.ConfirmAnswer(context.Background(), tok, txid, sig)

	poll, err := f.svc.Check(context.Background(), Request{TransactionID: txid})
	if err != nil {
		t.Fatal(err)
	}
	if poll.Authenticated {
		t.Error("expired challenge authenticated")
	}
}

func TestPollUnknownTransaction(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.svc.Check(context.Background(), Request{TransactionID: "deadbeef"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Authenticated {
		t.Error("unknown transaction authenticated")
	}
}

func TestCheckTOTPPrepend(t *testing.T) {
	f := newFixture(t, nil)
	tok := f.addTOTPToken(t, "TOTP001", "1234")

	code, err := totplib.GenerateCode(tok.Secret, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	res, err := f.svc.Check(context.Background(), Request{User: "selfservice", Realm: "realm1", Pass: "1234" + code})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Authenticated || res.Serial != tok.Serial || res.Message != MsgMatched {
		t.Errorf("result = %+v", res)
	}

	// Wrong proof with the right PIN fails without error.
	res, err = f.svc.Check(context.Background(), Request{User: "selfservice", Realm: "realm1", Pass: "1234000000"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Authenticated {
		t.Error("authenticated with a wrong code")
	}
}

func TestCheckTOTPAppendMode(t *testing.T) {
	f := newFixture(t, map[string]string{policydomain.ActionOTPPINMode: "append"})
	tok := f.addTOTPToken(t, "TOTP001", "1234")

	code, err := totplib.GenerateCode(tok.Secret, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	res, err := f.svc.Check(context.Background(), Request{User: "selfservice", Realm: "realm1", Pass: code + "1234"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Authenticated {
		t.Errorf("append-mode credential rejected: %+v", res)
	}
}

func TestCheckSkipsInactiveToken(t *testing.T) {
	f := newFixture(t, nil)
	tok, _ := f.addPushToken(t, "PUSH001", "1234")
	tok.Active = false

	res, err := f.svc.Check(context.Background(), Request{Serial: tok.Serial, Pass: "1234"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Authenticated || res.TransactionID != "" {
		t.Errorf("inactive token produced %+v", res)
	}
	if len(f.challenges.items) != 0 {
		t.Error("challenge created for inactive token")
	}
}

func TestCheckPushNoPIN(t *testing.T) {
	f := newFixture(t, nil)
	tok, _ := f.addPushToken(t, "PUSH001", "")

	// Empty credential triggers the challenge when no PIN is set.
	res, err := f.svc.Check(context.Background(), Request{Serial: tok.Serial, Pass: ""})
	if err != nil {
		t.Fatal(err)
	}
	if res.TransactionID == "" {
		t.Fatalf("no challenge: %+v", res)
	}

	// Any non-empty credential is a PIN mismatch.
	res, err = f.svc.Check(context.Background(), Request{Serial: tok.Serial, Pass: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if res.TransactionID != "" {
		t.Error("challenge created despite PIN mismatch")
	}
}
