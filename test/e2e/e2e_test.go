//go:build e2e

package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ingested struct {
	FileID     string `json:"file_id"`
	Filename   string `json:"filename"`
	ChunkCount int    `json:"chunk_count"`
	ObjectKey  string `json:"object_key"`
	CreatedAt  string `json:"created_at"`
	Warnings   []struct {
		Stage   string `json:"stage"`
		Message string `json:"message"`
	} `json:"warnings"`
}

func uploadText(t *testing.T, env *E2ETestEnv, filename, text string, fields map[string]string) ingested {
	t.Helper()
	resp, err := env.Upload(filename, []byte(text), fields, testAPIKey)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode, resp.Error)

	var out ingested
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	return out
}

func TestE2E_Health(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	resp, err := env.Get("/health", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = env.Get("/documents/file_missing", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestE2E_DocumentLifecycle(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	homily := strings.Repeat("Forgive us our trespasses as we forgive those who trespass against us. ", 40)
	bulletin := "Parish picnic on Sunday after the 10:30 Mass. Bring a dish to share."

	doc := uploadText(t, env, "lent homily.txt", homily, map[string]string{
		"parish_id":     "st-anne",
		"document_type": "homily",
		"metadata":      `{"celebrant":"Fr. Paul"}`,
	})
	other := uploadText(t, env, "bulletin.txt", bulletin, map[string]string{
		"parish_id":     "st-anne",
		"document_type": "bulletin",
	})

	t.Run("ingest result", func(t *testing.T) {
		assert.Regexp(t, regexp.MustCompile(`^file_[0-9a-f]{16}$`), doc.FileID)
		assert.Greater(t, doc.ChunkCount, 1)
		assert.Empty(t, doc.Warnings)
		assert.True(t, strings.HasPrefix(doc.ObjectKey, "st-anne/homily/"))
		assert.True(t, strings.HasSuffix(doc.ObjectKey, "_lent_homily.txt"))
	})

	t.Run("document info", func(t *testing.T) {
		resp, err := env.Get("/documents/"+doc.FileID, testAPIKey)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var info struct {
			Filename   string         `json:"filename"`
			Source     string         `json:"source"`
			ChunkCount int            `json:"chunk_count"`
			ObjectKey  string         `json:"object_key"`
			Metadata   map[string]any `json:"metadata"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &info))
		assert.Equal(t, "lent homily.txt", info.Filename)
		assert.Equal(t, "st-anne_homily", info.Source)
		assert.Equal(t, doc.ChunkCount, info.ChunkCount)
		assert.Equal(t, doc.ObjectKey, info.ObjectKey)
		assert.Equal(t, "Fr. Paul", info.Metadata["celebrant"])
	})

	t.Run("full text from backup", func(t *testing.T) {
		resp, err := env.Get("/documents/"+doc.FileID+"/text", testAPIKey)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Text string `json:"text"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &body))
		assert.Equal(t, homily, body.Text)
	})

	t.Run("semantic search ranks the matching document first", func(t *testing.T) {
		resp, err := env.Post("/search", map[string]any{"query": "forgive trespasses", "k": 5}, testAPIKey)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var result struct {
			Documents []struct {
				FileID   string  `json:"file_id"`
				MaxScore float64 `json:"max_score"`
				Chunks   []struct {
					Score float64 `json:"score"`
				} `json:"chunks"`
			} `json:"documents"`
			TotalFiles  int `json:"total_files"`
			TotalChunks int `json:"total_chunks"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &result))
		require.NotEmpty(t, result.Documents)
		assert.Equal(t, doc.FileID, result.Documents[0].FileID)
		assert.LessOrEqual(t, result.TotalChunks, 5)

		for i := 1; i < len(result.Documents); i++ {
			assert.GreaterOrEqual(t, result.Documents[i-1].MaxScore, result.Documents[i].MaxScore)
		}
		for _, d := range result.Documents {
			for _, c := range d.Chunks {
				assert.LessOrEqual(t, c.Score, d.MaxScore)
			}
		}
	})

	t.Run("search filters by document type", func(t *testing.T) {
		resp, err := env.Post("/search", map[string]any{
			"query":         "forgive trespasses",
			"parish_id":     "st-anne",
			"document_type": "bulletin",
		}, testAPIKey)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var result struct {
			Documents []struct {
				FileID string `json:"file_id"`
			} `json:"documents"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &result))
		require.Len(t, result.Documents, 1)
		assert.Equal(t, other.FileID, result.Documents[0].FileID)
	})

	t.Run("date range lists both documents", func(t *testing.T) {
		today := time.Now().UTC().Format("2006-01-02")
		resp, err := env.Get("/documents?start_date="+today+"&parish_id=st-anne", testAPIKey)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var result struct {
			TotalDocuments int `json:"total_documents"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &result))
		assert.Equal(t, 2, result.TotalDocuments)
	})

	t.Run("malformed date is rejected", func(t *testing.T) {
		resp, err := env.Get("/documents?start_date=03/08/2026", testAPIKey)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "validate", resp.Stage)
	})

	t.Run("citations link to a downloadable backup", func(t *testing.T) {
		answer := fmt.Sprintf("Forgiveness is central [Document ID: %s, Filename: lent homily.txt]. "+
			"Again [Document ID: %s, Filename: lent homily.txt]. Unknown [Document ID: file_0000000000000000, Filename: gone.txt].",
			doc.FileID, doc.FileID)

		resp, err := env.Post("/citations", map[string]string{"text": answer}, testAPIKey)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var result struct {
			Text       string `json:"text"`
			References []struct {
				Number int    `json:"number"`
				FileID string `json:"file_id"`
				Link   string `json:"link"`
				Error  string `json:"error"`
			} `json:"references"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &result))
		require.Len(t, result.References, 2)
		assert.Equal(t, 2, strings.Count(result.Text, "[1]"))
		assert.Contains(t, result.Text, "[2]")
		assert.Contains(t, result.Text, "2. gone.txt (reference unavailable)")
		assert.NotEmpty(t, result.References[1].Error)

		link := result.References[0].Link
		require.True(t, strings.HasPrefix(link, env.ServerURL+"/files/"))

		redirect, err := env.Get(strings.TrimPrefix(link, env.ServerURL), "")
		require.NoError(t, err)
		require.Equal(t, http.StatusFound, redirect.StatusCode)

		content, err := env.Fetch(redirect.Header.Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, homily, string(content))
	})

	t.Run("delete removes entries and backup", func(t *testing.T) {
		resp, err := env.Delete("/documents/"+doc.FileID, testAPIKey)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var result struct {
			FoundChunks    int `json:"found_chunks"`
			DeletedChunks  int `json:"deleted_chunks"`
			FoundObjects   int `json:"found_objects"`
			DeletedObjects int `json:"deleted_objects"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &result))
		assert.Equal(t, doc.ChunkCount, result.FoundChunks)
		assert.Equal(t, doc.ChunkCount, result.DeletedChunks)
		assert.Equal(t, 1, result.FoundObjects)
		assert.Equal(t, 1, result.DeletedObjects)

		info, err := env.Get("/documents/"+doc.FileID, testAPIKey)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, info.StatusCode)

		again, err := env.Delete("/documents/"+doc.FileID, testAPIKey)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, again.StatusCode)
	})
}

func TestE2E_UploadRejections(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	t.Run("missing parish", func(t *testing.T) {
		resp, err := env.Upload("a.txt", []byte("text"), nil, testAPIKey)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "validate", resp.Stage)
	})

	t.Run("blank document", func(t *testing.T) {
		resp, err := env.Upload("blank.txt", []byte("   \n\n  "), map[string]string{"parish_id": "st-anne"}, testAPIKey)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unsupported format", func(t *testing.T) {
		png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}
		resp, err := env.Upload("photo.png", png, map[string]string{"parish_id": "st-anne"}, testAPIKey)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "extract", resp.Stage)
	})
}
