package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"scnwatch/internal/surveillance"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testPanel(t *testing.T) surveillance.Panel {
	t.Helper()
	p, err := surveillance.NewPanel("Oxacillin", "Vancomycin", "Linezolid")
	require.NoError(t, err)
	return p
}

func TestReadTableSemicolon(t *testing.T) {
	path := writeFile(t, "samples.csv", "Id;Date;Oxacillin\n1;15/01/2024;R\n\n2;16/01/2024;S\n")
	table, err := ReadTable(path, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Id", "Date", "Oxacillin"}, table.Header)
	assert.Len(t, table.Rows, 2)

	idx, ok := table.Column("date")
	require.True(t, ok)
	assert.Equal(t, 1, idx)
}

func TestReadTableUnsupported(t *testing.T) {
	_, err := ReadTable("data.parquet", "")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestSamplesFromTable(t *testing.T) {
	path := writeFile(t, "samples.csv", "sample_id,sampling_date,unit,patient,OXACILLIN,Vancomycin\n"+
		"S1,15/01/2024,ICU,P1,R,S\n"+
		"S2,16/01/2024,ICU,P2,S\n")
	table, err := ReadTable(path, "")
	require.NoError(t, err)

	cols := SampleColumns{SampleID: "sample_id", SamplingDate: "sampling_date", RequestingUnit: "unit", PatientID: "patient"}
	samples, err := SamplesFromTable(table, cols, testPanel(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"sampling_date", "Oxacillin", "Vancomycin"}, samples.Columns)
	require.Len(t, samples.Rows, 2)
	assert.Equal(t, "S1", samples.Rows[0].SampleID)
	assert.Equal(t, "ICU", samples.Rows[0].RequestingUnit)
	assert.Equal(t, "R", samples.Rows[0].Results["Oxacillin"])
	assert.Equal(t, "", samples.Rows[1].Results["Vancomycin"])

	ds, err := surveillance.Normalize(samples, testPanel(t))
	require.NoError(t, err)
	assert.Equal(t, []surveillance.Antibiotic{"Linezolid"}, ds.MissingColumns)
}

func TestSamplesFromTableMissingDate(t *testing.T) {
	path := writeFile(t, "samples.csv", "id,Oxacillin\n1,R\n")
	table, err := ReadTable(path, "")
	require.NoError(t, err)

	_, err = SamplesFromTable(table, SampleColumns{SamplingDate: "sampling_date"}, testPanel(t))
	assert.ErrorIs(t, err, surveillance.ErrMissingColumn)
}

func TestMonthlyFromTable(t *testing.T) {
	path := writeFile(t, "monthly.csv", "Mois;Oxacillin;Vancomycin\n"+
		"2024-02;12,5;1\n"+
		"2024-01;10;\n"+
		"not a month;99;99\n"+
		"03/2024;14%;2\n")
	table, err := ReadTable(path, "")
	require.NoError(t, err)

	series, err := MonthlyFromTable(table, "", testPanel(t))
	require.NoError(t, err)
	require.Len(t, series, 2)

	ox := series[0]
	assert.Equal(t, surveillance.Antibiotic("Oxacillin"), ox.Antibiotic)
	require.Len(t, ox.Values, 3)
	assert.Equal(t, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), ox.Values[0].Month)
	assert.Equal(t, 10.0, ox.Values[0].Value)
	assert.Equal(t, 12.5, ox.Values[1].Value)
	assert.Equal(t, 14.0, ox.Values[2].Value)

	assert.Len(t, series[1].Values, 2)
}

func TestPhenotypesFromTable(t *testing.T) {
	path := writeFile(t, "phenotypes.csv", "Semaine,SRM,SRV,Wild,Other\n2024-W03,3,1,,2\n")
	table, err := ReadTable(path, "")
	require.NoError(t, err)

	weeks, err := PhenotypesFromTable(table, "Semaine", surveillance.DefaultPhenotypes)
	require.NoError(t, err)
	require.Len(t, weeks, 1)
	assert.Equal(t, "2024-W03", weeks[0].Week)
	assert.Equal(t, 3.0, weeks[0].Counts["SRM"])
	_, hasWild := weeks[0].Counts["Wild"]
	assert.False(t, hasWild)

	_, err = PhenotypesFromTable(table, "Semaine", []string{"SRM", "MRSE"})
	assert.ErrorIs(t, err, surveillance.ErrMissingColumn)
}

func TestParseMonth(t *testing.T) {
	for _, raw := range []string{"2024-03", "03/2024", "3/2024", "Mar 2024", "2024-03-17", "17/03/2024"} {
		got, ok := ParseMonth(raw)
		require.True(t, ok, raw)
		assert.Equal(t, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC), got, raw)
	}
	_, ok := ParseMonth("week 12")
	assert.False(t, ok)
}

func TestFilesFromWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lab.xlsx")
	wb := excelize.NewFile()
	rows := [][]any{
		{"sample_id", "sampling_date", "Oxacillin", "Vancomycin"},
		{"S1", "15/01/2024", "R", "S"},
		{"S2", "22/01/2024", "S", "S"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, wb.SetSheetRow("Sheet1", cell, &row))
	}
	require.NoError(t, wb.SaveAs(path))
	require.NoError(t, wb.Close())

	files := NewFiles(FileOptions{
		SamplesPath:   path,
		SampleColumns: SampleColumns{SampleID: "sample_id", SamplingDate: "sampling_date"},
	}, testPanel(t), zerolog.Nop())

	samples, err := files.LoadSamples(context.Background())
	require.NoError(t, err)
	require.Len(t, samples.Rows, 2)
	assert.Equal(t, "22/01/2024", samples.Rows[1].SamplingDate)

	_, err = files.LoadMonthly(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}
