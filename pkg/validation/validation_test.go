package validation

import (
	"strings"
	"testing"

	"github.com/nervozny/factor/pkg/pagination"
	"github.com/stretchr/testify/require"
)

type probe struct {
	Path   string   `validate:"required,filepath_ext"`
	Base   []string `validate:"omitempty,len=2,dive,ymd"`
	X      string   `validate:"omitempty,axis"`
	Cursor string   `validate:"omitempty,cursor"`
}

func TestValidateStruct_CustomRules(t *testing.T) {
	require.Empty(t, ValidateStruct(probe{Path: "/data/sales.xlsx", Base: []string{"2024-01-01", "2024-03-31"}, X: "brand"}))

	require.Equal(t, "VALIDATION: path is required", ValidateStruct(probe{}))
	require.Contains(t, ValidateStruct(probe{Path: "sales.csv"}), "must be an Excel file")
	require.Contains(t, ValidateStruct(probe{Path: "a.xlsx", Base: []string{"2024-01-01", "31.03.2024"}}), "YYYY-MM-DD")
	require.True(t, strings.HasPrefix(ValidateStruct(probe{Path: "a.xlsx", Base: []string{"2024-01-01"}}), "INVALID_INTERVAL:"))
	require.Contains(t, ValidateStruct(probe{Path: "a.xlsx", X: "Region"}), "must be one of")
	require.True(t, strings.HasPrefix(ValidateStruct(probe{Path: "a.xlsx", Cursor: "@@"}), "CURSOR_INVALID:"))
}

func TestValidateStruct_AcceptsIssuedCursor(t *testing.T) {
	tok, err := pagination.EncodeCursor(pagination.Cursor{Did: "d", Qh: "q", Ps: 10})
	require.NoError(t, err)
	require.Empty(t, ValidateStruct(probe{Path: "a.xlsm", Cursor: tok}))
}

type ref struct {
	DatasetID string `json:"dataset_id,omitempty" validate:"required_without=Path"`
	Path      string `json:"path,omitempty" validate:"omitempty,filepath_ext"`
}

func TestValidateStruct_ReportsJSONNames(t *testing.T) {
	require.Equal(t, "VALIDATION: dataset_id is required (or supply path)", ValidateStruct(ref{}))
	require.Empty(t, ValidateStruct(ref{Path: "sales.xlsx"}))
	require.Empty(t, ValidateStruct(ref{DatasetID: "abc"}))
}
