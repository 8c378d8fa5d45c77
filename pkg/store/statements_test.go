package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skilltrace/lrs/pkg/database"
	"github.com/skilltrace/lrs/pkg/statement"
	"github.com/skilltrace/lrs/pkg/types"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	cfg := database.DefaultConfig()
	cfg.DSN = ":memory:"
	cfg.MaxOpenConns = 1
	cfg.MaxIdleConns = 1
	db, err := database.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(context.Background(), db))
	return db
}

func newTestStore(t *testing.T) *StatementStore {
	t.Helper()
	return NewStatementStore(newTestDB(t), NewClock())
}

func decode(t *testing.T, body string) []statement.Decoded {
	t.Helper()
	batch, err := statement.DecodeStatements([]byte(body))
	require.NoError(t, err)
	for _, d := range batch {
		require.NoError(t, d.Statement.Violations())
	}
	return batch
}

func stmtJSON(id, verb, object string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"actor": {"mbox": "mailto:sam@example.org", "name": "Sam"},
		"verb": {"id": %q, "display": {"en-US": "did"}},
		"object": %s
	}`, id, verb, object)
}

func activityObj(iri string) string {
	return fmt.Sprintf(`{"id": %q}`, iri)
}

func refObj(id string) string {
	return fmt.Sprintf(`{"objectType": "StatementRef", "id": %q}`, id)
}

func TestInsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := uuid.NewString()

	ids, err := s.Insert(ctx, decode(t, stmtJSON(id, "http://example.org/did", activityObj("http://example.org/a"))), InsertOptions{})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, id, ids[0].String())

	got, err := s.GetByUUID(ctx, ids[0])
	require.NoError(t, err)
	assert.False(t, got.Voided)

	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(got.Exact, &m))
	assert.Contains(t, m, "stored")
	assert.Contains(t, m, "timestamp")
	assert.JSONEq(t, `"2.0.0"`, string(m["version"]))
}

func TestInsertAssignsID(t *testing.T) {
	s := newTestStore(t)
	body := `{
		"actor": {"mbox": "mailto:sam@example.org"},
		"verb": {"id": "http://example.org/did"},
		"object": {"id": "http://example.org/a"}
	}`
	ids, err := s.Insert(context.Background(), decode(t, body), InsertOptions{})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.NotEqual(t, uuid.Nil, ids[0])
}

func TestIdempotentResubmit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := uuid.NewString()
	body := stmtJSON(id, "http://example.org/did", activityObj("http://example.org/a"))

	_, err := s.Insert(ctx, decode(t, body), InsertOptions{})
	require.NoError(t, err)
	ids, err := s.Insert(ctx, decode(t, body), InsertOptions{})
	require.NoError(t, err)
	assert.Equal(t, id, ids[0].String())

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM statement WHERE exact_json IS NOT NULL`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestIDConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := uuid.NewString()

	_, err := s.Insert(ctx, decode(t, stmtJSON(id, "http://example.org/did", activityObj("http://example.org/a"))), InsertOptions{})
	require.NoError(t, err)
	_, err = s.Insert(ctx, decode(t, stmtJSON(id, "http://example.org/other", activityObj("http://example.org/a"))), InsertOptions{})
	assert.ErrorIs(t, err, ErrIDConflict)
}

func TestDuplicateIDWithinBatch(t *testing.T) {
	s := newTestStore(t)
	id := uuid.NewString()
	body := "[" + stmtJSON(id, "http://example.org/did", activityObj("http://example.org/a")) + "," +
		stmtJSON(id, "http://example.org/did", activityObj("http://example.org/b")) + "]"
	_, err := s.Insert(context.Background(), decode(t, body), InsertOptions{})
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestVoidingFlow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, b, c := uuid.NewString(), uuid.NewString(), uuid.NewString()
	verbX := "http://example.org/verbs/attempted"

	_, err := s.Insert(ctx, decode(t, stmtJSON(a, verbX, activityObj("http://example.org/act"))), InsertOptions{})
	require.NoError(t, err)
	_, err = s.Insert(ctx, decode(t, stmtJSON(b, statement.VoidingVerb, refObj(a))), InsertOptions{})
	require.NoError(t, err)
	_, err = s.Insert(ctx, decode(t, stmtJSON(c, verbX, refObj(a))), InsertOptions{})
	require.NoError(t, err)

	target, err := s.GetByUUID(ctx, uuid.MustParse(a))
	require.NoError(t, err)
	assert.True(t, target.Voided)

	// The voided statement disappears; the voider and the referencing
	// statement remain, both with and without the verb filter.
	ids, err := s.Find(ctx, StatementQuery{Verb: verbX, Ascending: true})
	require.NoError(t, err)
	assert.Equal(t, []string{b, c}, uuidStrings(ids))

	ids, err = s.Find(ctx, StatementQuery{Ascending: true})
	require.NoError(t, err)
	assert.Equal(t, []string{b, c}, uuidStrings(ids))

	// The voiding verb itself never matches.
	ids, err = s.Find(ctx, StatementQuery{Verb: statement.VoidingVerb})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestVoidTargetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Insert(context.Background(),
		decode(t, stmtJSON(uuid.NewString(), statement.VoidingVerb, refObj(uuid.NewString()))), InsertOptions{})
	assert.ErrorIs(t, err, ErrVoidTarget)
}

func TestVoidingAVoidingStatement(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, b := uuid.NewString(), uuid.NewString()

	_, err := s.Insert(ctx, decode(t, stmtJSON(a, "http://example.org/did", activityObj("http://example.org/act"))), InsertOptions{})
	require.NoError(t, err)
	_, err = s.Insert(ctx, decode(t, stmtJSON(b, statement.VoidingVerb, refObj(a))), InsertOptions{})
	require.NoError(t, err)
	_, err = s.Insert(ctx, decode(t, stmtJSON(uuid.NewString(), statement.VoidingVerb, refObj(b))), InsertOptions{})
	assert.ErrorIs(t, err, ErrVoidTarget)
}

func TestFindAgentFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mine, other := uuid.NewString(), uuid.NewString()

	_, err := s.Insert(ctx, decode(t, stmtJSON(mine, "http://example.org/did", activityObj("http://example.org/a"))), InsertOptions{})
	require.NoError(t, err)
	body := fmt.Sprintf(`{
		"id": %q,
		"actor": {"mbox": "mailto:kim@example.org"},
		"verb": {"id": "http://example.org/did"},
		"object": {"id": "http://example.org/a"}
	}`, other)
	_, err = s.Insert(ctx, decode(t, body), InsertOptions{})
	require.NoError(t, err)

	agent := &statement.Actor{ObjectType: "Agent", Mbox: "mailto:SAM@example.org"}
	ids, err := s.Find(ctx, StatementQuery{Agent: agent})
	require.NoError(t, err)
	assert.Equal(t, []string{mine}, uuidStrings(ids))
}

func TestFindAgentGroupMembership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := uuid.NewString()
	body := fmt.Sprintf(`{
		"id": %q,
		"actor": {"objectType": "Group", "member": [
			{"mbox": "mailto:sam@example.org"},
			{"mbox": "mailto:kim@example.org"}
		]},
		"verb": {"id": "http://example.org/did"},
		"object": {"id": "http://example.org/a"}
	}`, id)
	_, err := s.Insert(ctx, decode(t, body), InsertOptions{})
	require.NoError(t, err)

	agent := &statement.Actor{ObjectType: "Agent", Mbox: "mailto:kim@example.org"}
	ids, err := s.Find(ctx, StatementQuery{Agent: agent})
	require.NoError(t, err)
	assert.Equal(t, []string{id}, uuidStrings(ids))
}

func TestFindRelatedAgents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := uuid.NewString()
	body := fmt.Sprintf(`{
		"id": %q,
		"actor": {"mbox": "mailto:sam@example.org"},
		"verb": {"id": "http://example.org/did"},
		"object": {"id": "http://example.org/a"},
		"context": {"instructor": {"mbox": "mailto:teach@example.org"}}
	}`, id)
	_, err := s.Insert(ctx, decode(t, body), InsertOptions{})
	require.NoError(t, err)

	instructor := &statement.Actor{ObjectType: "Agent", Mbox: "mailto:teach@example.org"}
	ids, err := s.Find(ctx, StatementQuery{Agent: instructor})
	require.NoError(t, err)
	assert.Empty(t, ids, "instructor only matches with related_agents")

	ids, err = s.Find(ctx, StatementQuery{Agent: instructor, RelatedAgents: true})
	require.NoError(t, err)
	assert.Equal(t, []string{id}, uuidStrings(ids))
}

func TestFindActivityFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	direct, related := uuid.NewString(), uuid.NewString()

	_, err := s.Insert(ctx, decode(t, stmtJSON(direct, "http://example.org/did", activityObj("http://example.org/course"))), InsertOptions{})
	require.NoError(t, err)
	body := fmt.Sprintf(`{
		"id": %q,
		"actor": {"mbox": "mailto:sam@example.org"},
		"verb": {"id": "http://example.org/did"},
		"object": {"id": "http://example.org/lesson"},
		"context": {"contextActivities": {"parent": {"id": "http://example.org/course"}}}
	}`, related)
	_, err = s.Insert(ctx, decode(t, body), InsertOptions{})
	require.NoError(t, err)

	ids, err := s.Find(ctx, StatementQuery{Activity: "http://example.org/course"})
	require.NoError(t, err)
	assert.Equal(t, []string{direct}, uuidStrings(ids))

	ids, err = s.Find(ctx, StatementQuery{Activity: "http://example.org/course", RelatedActivities: true, Ascending: true})
	require.NoError(t, err)
	assert.Equal(t, []string{direct, related}, uuidStrings(ids))
}

func TestFindRegistrationAndWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reg := uuid.New()
	id := uuid.NewString()
	body := fmt.Sprintf(`{
		"id": %q,
		"actor": {"mbox": "mailto:sam@example.org"},
		"verb": {"id": "http://example.org/did"},
		"object": {"id": "http://example.org/a"},
		"context": {"registration": %q}
	}`, id, reg.String())
	_, err := s.Insert(ctx, decode(t, body), InsertOptions{})
	require.NoError(t, err)

	ids, err := s.Find(ctx, StatementQuery{Registration: &reg})
	require.NoError(t, err)
	assert.Equal(t, []string{id}, uuidStrings(ids))

	st, err := s.GetByUUID(ctx, uuid.MustParse(id))
	require.NoError(t, err)

	after := st.Stored
	ids, err = s.Find(ctx, StatementQuery{Since: &after})
	require.NoError(t, err)
	assert.Empty(t, ids, "since is exclusive")

	ids, err = s.Find(ctx, StatementQuery{Until: &after})
	require.NoError(t, err)
	assert.Equal(t, []string{id}, uuidStrings(ids), "until is inclusive")
}

func TestFindWindowWithOffsetTimestamps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := uuid.NewString()
	_, err := s.Insert(ctx, decode(t, stmtJSON(id, "http://example.org/did", activityObj("http://example.org/a"))), InsertOptions{})
	require.NoError(t, err)
	st, err := s.GetByUUID(ctx, uuid.MustParse(id))
	require.NoError(t, err)

	// An offset-bearing bound must compare by instant, not by its spelling.
	east := time.FixedZone("east", 2*3600)
	before := types.Timestamp{Time: st.Stored.Time.Add(-time.Millisecond).In(east)}

	ids, err := s.Find(ctx, StatementQuery{Until: &before})
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = s.Find(ctx, StatementQuery{Since: &before})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, id, ids[0].String())
}

func TestExactKeepsSubmittedKeyOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	body := `{
		"actor": {"mbox": "mailto:sam@example.org"},
		"verb": {"id": "http://example.org/did"},
		"object": {"id": "http://example.org/a"}
	}`
	ids, err := s.Insert(ctx, decode(t, body), InsertOptions{})
	require.NoError(t, err)
	st, err := s.GetByUUID(ctx, ids[0])
	require.NoError(t, err)

	exact := string(st.Exact)
	actor := strings.Index(exact, `"actor"`)
	verb := strings.Index(exact, `"verb"`)
	object := strings.Index(exact, `"object"`)
	stored := strings.Index(exact, `"stored"`)
	require.NotEqual(t, -1, actor)
	require.NotEqual(t, -1, stored)
	assert.Less(t, actor, verb)
	assert.Less(t, verb, object)
	// Server-assigned keys append after the submitted ones.
	assert.Less(t, object, stored)
}

func TestActivityDefinitionMergedOnUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	first := fmt.Sprintf(`{
		"id": %q,
		"actor": {"mbox": "mailto:sam@example.org"},
		"verb": {"id": "http://example.org/did"},
		"object": {"id": "http://example.org/a", "definition": {"name": {"en-US": "Alpha"}}}
	}`, uuid.NewString())
	second := fmt.Sprintf(`{
		"id": %q,
		"actor": {"mbox": "mailto:sam@example.org"},
		"verb": {"id": "http://example.org/did"},
		"object": {"id": "http://example.org/a", "definition": {"name": {"fr": "Alpha"}, "moreInfo": "http://example.org/about"}}
	}`, uuid.NewString())

	_, err := s.Insert(ctx, decode(t, first), InsertOptions{})
	require.NoError(t, err)
	_, err = s.Insert(ctx, decode(t, second), InsertOptions{})
	require.NoError(t, err)

	a, err := s.GetActivity(ctx, "http://example.org/a")
	require.NoError(t, err)
	require.NotNil(t, a.Definition)
	assert.Len(t, a.Definition.Name, 2)
	assert.Equal(t, "http://example.org/about", a.Definition.MoreInfo)
}

func TestVerbDisplayExtendAndLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	verb := "http://example.org/verbs/completed"

	one := fmt.Sprintf(`{
		"id": %q,
		"actor": {"mbox": "mailto:sam@example.org"},
		"verb": {"id": %q, "display": {"en-US": "completed"}},
		"object": {"id": "http://example.org/a"}
	}`, uuid.NewString(), verb)
	two := fmt.Sprintf(`{
		"id": %q,
		"actor": {"mbox": "mailto:sam@example.org"},
		"verb": {"id": %q, "display": {"fr": "a fini"}},
		"object": {"id": "http://example.org/a"}
	}`, uuid.NewString(), verb)

	_, err := s.Insert(ctx, decode(t, one), InsertOptions{})
	require.NoError(t, err)
	_, err = s.Insert(ctx, decode(t, two), InsertOptions{})
	require.NoError(t, err)

	got, err := s.LookupVerb(ctx, verb)
	require.NoError(t, err)
	assert.Len(t, got.Display, 2)

	byAlias, err := s.LookupVerb(ctx, "completed")
	require.NoError(t, err)
	assert.Equal(t, verb, byAlias.ID)

	_, err = s.LookupVerb(ctx, "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPersonAggregate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"Sam", "Samantha"} {
		body := fmt.Sprintf(`{
			"id": %q,
			"actor": {"mbox": "mailto:sam@example.org", "name": %q},
			"verb": {"id": "http://example.org/did"},
			"object": {"id": "http://example.org/a"}
		}`, uuid.NewString(), name)
		_, err := s.Insert(ctx, decode(t, body), InsertOptions{})
		require.NoError(t, err)
	}

	agent := &statement.Actor{ObjectType: "Agent", Mbox: "mailto:sam@example.org"}
	p, err := s.GetPerson(ctx, agent)
	require.NoError(t, err)
	assert.Equal(t, "Person", p.ObjectType)
	assert.ElementsMatch(t, []string{"Sam", "Samantha"}, p.Name)
	assert.Equal(t, []string{"mailto:sam@example.org"}, p.Mbox)
}

func TestClockMonotonic(t *testing.T) {
	c := NewClock()
	prev := c.Stamp()
	for i := 0; i < 100; i++ {
		next := c.Stamp()
		assert.True(t, next.After(prev.Time), "stamps must strictly increase")
		prev = next
	}
	assert.False(t, c.ConsistentThrough().Before(prev.Time))
}

func TestAttachmentMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := uuid.NewString()
	sha2 := "b1946ac92492d2347c6235b4d2611184b1946ac92492d2347c6235b4d2611184"
	body := fmt.Sprintf(`{
		"id": %q,
		"actor": {"mbox": "mailto:sam@example.org"},
		"verb": {"id": "http://example.org/did"},
		"object": {"id": "http://example.org/a"},
		"attachments": [{
			"usageType": "http://example.org/receipt",
			"display": {"en-US": "receipt"},
			"contentType": "text/plain",
			"length": 5,
			"sha2": %q
		}]
	}`, id, sha2)
	_, err := s.Insert(ctx, decode(t, body), InsertOptions{StoredKeys: map[string]string{sha2: "blob-key"}})
	require.NoError(t, err)

	metas, err := s.AttachmentsFor(ctx, []uuid.UUID{uuid.MustParse(id)})
	require.NoError(t, err)
	require.Len(t, metas[uuid.MustParse(id)], 1)
	meta := metas[uuid.MustParse(id)][0]
	assert.Equal(t, sha2, meta.SHA2)
	assert.Equal(t, "text/plain", meta.ContentType)
	assert.Equal(t, "blob-key", meta.StoredKey)
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
