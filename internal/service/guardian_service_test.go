package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-notify-api/internal/dto"
	"github.com/noah-isme/sma-notify-api/internal/models"
	appErrors "github.com/noah-isme/sma-notify-api/pkg/errors"
)

type mockGuardianStore struct {
	guardians map[string]*models.Guardian
	links     []models.GuardianStudentLink
	linkErr   error
}

func newMockGuardianStore() *mockGuardianStore {
	return &mockGuardianStore{guardians: make(map[string]*models.Guardian)}
}

func (m *mockGuardianStore) Create(_ context.Context, guardian *models.Guardian) error {
	guardian.ID = fmt.Sprintf("g-%d", len(m.guardians)+1)
	copied := *guardian
	m.guardians[guardian.ID] = &copied
	return nil
}

func (m *mockGuardianStore) FindByID(_ context.Context, id string) (*models.Guardian, error) {
	if g, ok := m.guardians[id]; ok {
		copied := *g
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockGuardianStore) Link(_ context.Context, link *models.GuardianStudentLink) error {
	if m.linkErr != nil {
		return m.linkErr
	}
	if err := link.ValidateRights(); err != nil {
		return err
	}
	link.ID = fmt.Sprintf("link-%d", len(m.links)+1)
	m.links = append(m.links, *link)
	return nil
}

func (m *mockGuardianStore) ListForStudent(_ context.Context, studentID string) ([]models.GuardianStudentLink, error) {
	var out []models.GuardianStudentLink
	for _, l := range m.links {
		if l.StudentID == studentID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockGuardianStore) FindLink(_ context.Context, guardianID, studentID string) (*models.GuardianStudentLink, error) {
	for _, l := range m.links {
		if l.GuardianID == guardianID && l.StudentID == studentID {
			copied := l
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

type memGuardianCache struct {
	values  map[string][]byte
	deleted []string
}

func newMemGuardianCache() *memGuardianCache {
	return &memGuardianCache{values: make(map[string][]byte)}
}

func (c *memGuardianCache) Get(_ context.Context, key string, dest interface{}) error {
	raw, ok := c.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memGuardianCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.values[key] = raw
	return nil
}

func (c *memGuardianCache) DeleteByPattern(_ context.Context, pattern string) error {
	c.deleted = append(c.deleted, pattern)
	delete(c.values, pattern)
	return nil
}

func strPtr(s string) *string { return &s }

func TestGuardianCreateRequiresContactMethod(t *testing.T) {
	svc := NewGuardianService(newMockGuardianStore(), nil, nil, nil)

	_, err := svc.Create(context.Background(), dto.CreateGuardianRequest{
		FullName: "Siti Rahma",
		SchoolID: "school-1",
	})
	require.Error(t, err)
	apiErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, apiErr.Code)

	guardian, err := svc.Create(context.Background(), dto.CreateGuardianRequest{
		FullName: "Siti Rahma",
		SchoolID: "school-1",
		WhatsApp: strPtr("+62811111111"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, guardian.ID)
}

func TestGuardianGetNotFound(t *testing.T) {
	svc := NewGuardianService(newMockGuardianStore(), nil, nil, nil)

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	apiErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrNotFound.Code, apiErr.Code)
}

func TestGuardianLinkRejectsInformationalContactRights(t *testing.T) {
	store := newMockGuardianStore()
	svc := NewGuardianService(store, nil, nil, nil)

	_, err := svc.Link(context.Background(), dto.LinkGuardianRequest{
		GuardianID: "g-1",
		StudentID:  "student-1",
		Role:       models.RoleInformationalContact,
		CanPickup:  true,
	})
	require.Error(t, err)
	apiErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrContactRights.Code, apiErr.Code)
	assert.Empty(t, store.links)
}

func TestGuardianLinkPropagatesStoreLimits(t *testing.T) {
	store := newMockGuardianStore()
	store.linkErr = appErrors.ErrGuardianLimit
	svc := NewGuardianService(store, nil, nil, nil)

	_, err := svc.Link(context.Background(), dto.LinkGuardianRequest{
		GuardianID: "g-1",
		StudentID:  "student-1",
		Role:       models.RoleSecondaryGuardian,
	})
	assert.ErrorIs(t, err, appErrors.ErrGuardianLimit)
}

func TestGuardianListForStudentSkipsOrphanLinks(t *testing.T) {
	store := newMockGuardianStore()
	svc := NewGuardianService(store, nil, nil, nil)
	ctx := context.Background()

	guardian, err := svc.Create(ctx, dto.CreateGuardianRequest{
		FullName: "Budi Santoso",
		SchoolID: "school-1",
		Phone:    strPtr("+62822222222"),
	})
	require.NoError(t, err)

	_, err = svc.Link(ctx, dto.LinkGuardianRequest{
		GuardianID: guardian.ID,
		StudentID:  "student-1",
		Role:       models.RolePrimaryGuardian,
	})
	require.NoError(t, err)

	// A dangling link whose guardian row is gone is skipped, not fatal.
	store.links = append(store.links, models.GuardianStudentLink{
		ID:         "link-orphan",
		GuardianID: "g-gone",
		StudentID:  "student-1",
		Role:       models.RoleSecondaryGuardian,
	})

	result, err := svc.ListForStudent(ctx, "student-1")
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, guardian.ID, result[0].Guardian.ID)
	assert.Equal(t, models.RolePrimaryGuardian, result[0].Link.Role)
}

func TestGuardianGetServesFromCache(t *testing.T) {
	store := newMockGuardianStore()
	cache := newMemGuardianCache()
	svc := NewGuardianService(store, cache, nil, nil)
	ctx := context.Background()

	guardian, err := svc.Create(ctx, dto.CreateGuardianRequest{
		FullName: "Siti Rahma",
		SchoolID: "school-1",
		WhatsApp: strPtr("+62811111111"),
	})
	require.NoError(t, err)

	first, cached, err := svc.GetWithSource(ctx, guardian.ID)
	require.NoError(t, err)
	assert.False(t, cached)

	// The second read comes from the cache even after the row vanishes.
	delete(store.guardians, guardian.ID)
	second, cached, err := svc.GetWithSource(ctx, guardian.ID)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, first.FullName, second.FullName)
}

func TestGuardianLinkInvalidatesRosterCache(t *testing.T) {
	store := newMockGuardianStore()
	cache := newMemGuardianCache()
	svc := NewGuardianService(store, cache, nil, nil)
	ctx := context.Background()

	guardian, err := svc.Create(ctx, dto.CreateGuardianRequest{
		FullName: "Budi Santoso",
		SchoolID: "school-1",
		Phone:    strPtr("+62822222222"),
	})
	require.NoError(t, err)

	empty, err := svc.ListForStudent(ctx, "student-1")
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.Contains(t, cache.values, "guardians:student:student-1")

	_, err = svc.Link(ctx, dto.LinkGuardianRequest{
		GuardianID: guardian.ID,
		StudentID:  "student-1",
		Role:       models.RolePrimaryGuardian,
	})
	require.NoError(t, err)
	assert.Contains(t, cache.deleted, "guardians:student:student-1")

	result, cached, err := svc.ListForStudentWithSource(ctx, "student-1")
	require.NoError(t, err)
	assert.False(t, cached)
	require.Len(t, result, 1)
}
