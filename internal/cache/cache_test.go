package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashOf(b byte) [32]byte {
	var h [32]byte
	h[0] = b
	return h
}

func TestAddThenReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	defer store.Close()

	blobSrc := filepath.Join(dir, "blob-src")
	require.NoError(t, os.WriteFile(blobSrc, []byte("compiled output"), 0o644))
	outHash := hashOf(7)

	inHash := hashOf(1)
	addReq := AddJobRequest{
		Job: JobRow{
			Directory:   "/work",
			CommandLine: "cc -c a.c",
			Environment: "PATH=/bin",
			Stdin:       "",
			Bloom:       Bloom(0).Add(inHash),
		},
		Inputs:  []InputFile{{Path: "a.c", Hash: inHash}},
		Outputs: []OutputFile{{Path: "a.o", Hash: outHash, Mode: 0o644}},
		Info:    OutputInfo{Status: 0, OBytes: 16},
		Blobs:   map[[32]byte]string{outHash: blobSrc},
	}

	jobID, err := store.Add(addReq)
	require.NoError(t, err)
	assert.NotZero(t, jobID)

	findReq := FindJobRequest{
		Cwd:         "/work",
		CommandLine: "cc -c a.c",
		Environment: "PATH=/bin",
		Stdin:       "",
		Visible:     map[string][32]byte{"a.c": inHash},
		Bloom:       Bloom(0).Add(inHash),
	}
	match, found, err := store.Find(findReq)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, match.Files, 1)
	assert.Equal(t, "a.o", match.Files[0].Path)
	assert.Equal(t, outHash, match.Files[0].Hash)
}

func TestFindMissesOnChangedInput(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	defer store.Close()

	blobSrc := filepath.Join(dir, "blob-src")
	require.NoError(t, os.WriteFile(blobSrc, []byte("x"), 0o644))
	hashV1 := hashOf(1)
	hashV2 := hashOf(2)
	outHash := hashOf(9)

	_, err = store.Add(AddJobRequest{
		Job: JobRow{
			Directory:   "/work",
			CommandLine: "cc -c a.c",
			Environment: "PATH=/bin",
			Bloom:       Bloom(0).Add(hashV1),
		},
		Inputs:  []InputFile{{Path: "a.c", Hash: hashV1}},
		Outputs: []OutputFile{{Path: "a.o", Hash: outHash, Mode: 0o644}},
		Blobs:   map[[32]byte]string{outHash: blobSrc},
	})
	require.NoError(t, err)

	_, found, err := store.Find(FindJobRequest{
		Cwd:         "/work",
		CommandLine: "cc -c a.c",
		Environment: "PATH=/bin",
		Visible:     map[string][32]byte{"a.c": hashV2},
		Bloom:       Bloom(0).Add(hashV2),
	})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBloomSubsetRejectsNonSubset(t *testing.T) {
	req := Bloom(0).Add(hashOf(1)).Add(hashOf(2))
	candidate := Bloom(0).Add(hashOf(1)).Add(hashOf(3))
	assert.False(t, candidate.IsSubsetOf(req), "candidate has bit 3 which request lacks")

	subset := Bloom(0).Add(hashOf(1))
	assert.True(t, subset.IsSubsetOf(req))
}

func TestRestoreWritesOutputFile(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	defer store.Close()

	blobSrc := filepath.Join(dir, "blob-src")
	content := []byte("binary output bytes")
	require.NoError(t, os.WriteFile(blobSrc, content, 0o644))
	outHash := hashOf(5)

	jobID, err := store.Add(AddJobRequest{
		Job:     JobRow{Directory: "/work", CommandLine: "ld a.o", Environment: "", Bloom: 0},
		Outputs: []OutputFile{{Path: "a.out", Hash: outHash, Mode: 0o755}},
		Blobs:   map[[32]byte]string{outHash: blobSrc},
	})
	require.NoError(t, err)

	match, found, err := store.Find(FindJobRequest{
		Cwd: "/work", CommandLine: "ld a.o", Environment: "",
		Visible: map[string][32]byte{},
	})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, jobID, match.JobID)

	destDir := t.TempDir()
	err = store.Restore(match, func(path string) string { return filepath.Join(destDir, filepath.Base(path)) })
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(destDir, "a.out"))
	require.NoError(t, err)
	assert.Equal(t, content, got)
}
