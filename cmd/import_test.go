package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportCmd_Metadata(t *testing.T) {
	assert.Equal(t, "import", importCmd.Use)
	assert.NotEmpty(t, importCmd.Short)

	csvFlag := importCmd.Flags().Lookup("csv")
	require.NotNil(t, csvFlag)

	batch := importCmd.Flags().Lookup("batch-size")
	require.NotNil(t, batch)
	assert.Equal(t, "500", batch.DefValue)
}

func TestParseDelimiter(t *testing.T) {
	tests := []struct {
		in      string
		want    rune
		wantErr bool
	}{
		{in: ",", want: ','},
		{in: "|", want: '|'},
		{in: `\t`, want: '\t'},
		{in: "", wantErr: true},
		{in: ";;", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseDelimiter(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestImportCmd_LoadsRecords(t *testing.T) {
	testConfig(t)

	path := filepath.Join(t.TempDir(), "awards.csv")
	require.NoError(t, os.WriteFile(path, []byte(
		"id,piid,awardee_name,state,amount,signed_date\n"+
			"A1,P-1,Acme Corp,VA,1000,2024-01-05\n"+
			"A2,P-2,Beta LLC,TX,2500.50,2024-02-10\n"), 0o600))

	importCSVPath = path
	importBatchSize = 1
	importDelimiter = ","
	importCmd.SetContext(context.Background())
	require.NoError(t, importCmd.RunE(importCmd, nil))

	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	rec, err := st.GetRecord(context.Background(), "A2")
	require.NoError(t, err)
	assert.Equal(t, "Beta LLC", rec.AwardeeName)
	assert.InDelta(t, 2500.50, rec.Amount, 1e-9)
}

func TestImportCmd_MissingFile(t *testing.T) {
	testConfig(t)

	importCSVPath = filepath.Join(t.TempDir(), "nope.csv")
	importDelimiter = ","
	importCmd.SetContext(context.Background())
	err := importCmd.RunE(importCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open csv")
}
