package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalSerializesEmptyRecordsArray(t *testing.T) {
	journal := Journal{ID: 1, Query: "chinatown", Status: JournalPending, Records: []Record{}}

	data, err := json.Marshal(journal)
	require.NoError(t, err)

	// Polling-Clients erwarten vor dem ersten Record ein leeres Array
	assert.Contains(t, string(data), `"records":[]`)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	_, ok := decoded["records"]
	assert.True(t, ok, "records-Schlüssel muss immer vorhanden sein")
}
