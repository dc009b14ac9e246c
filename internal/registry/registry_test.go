package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	r := Default()
	assert.Equal(t, 70, r.Len())
	assert.Equal(t, []string{"Bengaluru", "Chennai", "Delhi", "Indore", "Kolkata", "Lucknow", "Mumbai"}, r.Cities())

	delhi := r.ByCity("delhi")
	require.Len(t, delhi, 10)
	assert.Equal(t, "DEL-001", delhi[0].ID)
	assert.Equal(t, "Connaught Place Inner Circle", delhi[0].Location)

	c, ok := r.Get("CHN-001")
	require.True(t, ok)
	assert.Equal(t, "T. Nagar Ranganathan St", c.Location)
	assert.Equal(t, 13.0401, c.Lat)
}

func TestAll_ReturnsCopy(t *testing.T) {
	r := Default()
	all := r.All()
	all[0].ID = "changed"
	assert.Equal(t, "DEL-001", r.All()[0].ID)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atms.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
atms:
  - {id: A1, city: Pune, location: "FC Road", lat: 18.52, lng: 73.84, status: online}
  - {id: A2, city: Pune, location: "Camp", lat: 18.51, lng: 73.88}
`), 0o644))

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, StatusOnline, r.All()[0].Status)
	assert.Empty(t, r.ByCity("Delhi"))
}

func TestLoad_EmptyPathIsDefault(t *testing.T) {
	r, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 70, r.Len())
}

func TestNew_Rejects(t *testing.T) {
	_, err := New([]Candidate{
		{ID: "", City: "X"},
		{ID: "A", Lat: 95},
		{ID: "B"},
		{ID: "B"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id is required")
	assert.Contains(t, err.Error(), "out of range")
	assert.Contains(t, err.Error(), "duplicate id")
}
