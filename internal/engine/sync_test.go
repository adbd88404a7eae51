package engine

import (
	"context"
	"encoding/xml"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panorama-rulefinder/internal/model"
	"panorama-rulefinder/internal/panorama"
	"panorama-rulefinder/internal/parser"
	"panorama-rulefinder/internal/store"
)

const dg2Rules = `<response status="success"><result><security><rules>
  <entry name="allow-web" uuid="u-10">
    <source><member>web1</member></source>
    <destination><member>any</member></destination>
    <action>allow</action>
  </entry>
  <entry name="to-db" uuid="u-11">
    <source><member>app1</member></source>
    <destination><member>web1</member></destination>
    <action>deny</action>
    <negate-destination>yes</negate-destination>
  </entry>
  <entry name="broken" uuid="u-12">
    <source><member>web1</member></source>
  </entry>
</rules></security></result></response>`

type fakeRuleFetcher struct {
	bodies map[string]string
	errs   map[string]error
	calls  []string
}

func (f *fakeRuleFetcher) FetchRules(ctx context.Context, dg string) (*panorama.Response, error) {
	f.calls = append(f.calls, dg)
	if err, ok := f.errs[dg]; ok {
		return nil, err
	}
	var resp panorama.Response
	if err := xml.Unmarshal([]byte(f.bodies[dg]), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open("sqlite", filepath.Join(t.TempDir(), "rules.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRefreshSkipsFailedDeviceGroup(t *testing.T) {
	s := openStore(t)
	fetcher := &fakeRuleFetcher{
		bodies: map[string]string{"dg2": dg2Rules},
		errs:   map[string]error{"dg1": &panorama.APIError{Call: "getrules", StatusCode: http.StatusForbidden}},
	}
	syncer := NewSyncer(fetcher, s)

	summary, err := syncer.Refresh(context.Background(), []string{"dg1", "dg2"})
	require.Error(t, err)

	var apiErr *panorama.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, err.Error(), "device group dg1")
	assert.Equal(t, []string{"dg1", "dg2"}, fetcher.calls)

	require.Len(t, summary.Groups, 2)
	assert.Error(t, summary.Groups[0].Err)
	assert.Zero(t, summary.Groups[0].Written)
	assert.NoError(t, summary.Groups[1].Err)
	assert.Equal(t, 2, summary.Groups[1].Written)
	assert.Equal(t, 1, summary.Groups[1].Skipped)
	assert.Equal(t, 2, summary.Written())
	assert.NotEmpty(t, summary.RunID)

	ctx := context.Background()
	n, err := s.Count(ctx, "dg1")
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = s.Count(ctx, "dg2")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRefreshStrictRejectsGroupWithInvalidRules(t *testing.T) {
	s := openStore(t)
	syncer := NewSyncer(&fakeRuleFetcher{bodies: map[string]string{"dg2": dg2Rules}}, s)
	syncer.Strict = true

	summary, err := syncer.Refresh(context.Background(), []string{"dg2"})
	var inErr *parser.InputError
	require.ErrorAs(t, err, &inErr)
	assert.Equal(t, "broken", inErr.Rule)
	assert.Zero(t, summary.Written())

	n, err := s.Count(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRefreshTwiceIsIdempotent(t *testing.T) {
	s := openStore(t)
	syncer := NewSyncer(&fakeRuleFetcher{bodies: map[string]string{"dg2": dg2Rules}}, s)
	ctx := context.Background()

	read := func() []model.RuleRecord {
		_, err := syncer.Refresh(ctx, []string{"dg2"})
		require.NoError(t, err)
		rules, err := s.FindRulesByObjects(ctx, []string{"web1", "app1"})
		require.NoError(t, err)
		return rules
	}

	first := read()
	second := read()
	assert.Equal(t, first, second)
	n, err := s.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRefreshWithoutDeviceGroups(t *testing.T) {
	_, err := NewSyncer(&fakeRuleFetcher{}, openStore(t)).Refresh(context.Background(), nil)
	assert.Error(t, err)
}

type failingStore struct{ resetErr error }

func (f failingStore) ResetSchema(ctx context.Context) error { return f.resetErr }
func (f failingStore) Sync(ctx context.Context, records []model.RuleRecord) (int, error) {
	return 0, nil
}

func TestRefreshStopsWhenResetFails(t *testing.T) {
	fetcher := &fakeRuleFetcher{bodies: map[string]string{"dg2": dg2Rules}}
	resetErr := &store.StorageError{Op: "drop table", Err: assert.AnError}

	_, err := NewSyncer(fetcher, failingStore{resetErr: resetErr}).Refresh(context.Background(), []string{"dg2"})
	require.ErrorIs(t, err, resetErr)
	assert.Empty(t, fetcher.calls)
}
