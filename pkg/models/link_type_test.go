package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vfrank66/splink/pkg/apperrors"
)

func TestParseLinkType(t *testing.T) {
	lt, err := ParseLinkType(" Link_Only ")
	require.NoError(t, err)
	assert.Equal(t, LinkTypeLinkOnly, lt)

	_, err = ParseLinkType("everything")
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestLinkType_PairShape(t *testing.T) {
	tests := []struct {
		lt           LinkType
		spans        bool
		sameInputSet bool
		ordersPairs  bool
	}{
		{LinkTypeDedupeOnly, false, true, true},
		{LinkTypeLinkOnly, true, true, true},
		{LinkTypeLinkAndDedupe, true, true, true},
		{LinkTypeTwoDatasetLinkOnly, true, false, false},
		{LinkTypeSelfLink, false, true, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.lt), func(t *testing.T) {
			assert.Equal(t, tt.spans, tt.lt.SpansDatasets())
			assert.Equal(t, tt.sameInputSet, tt.lt.SameInputSet())
			assert.Equal(t, tt.ordersPairs, tt.lt.OrdersPairs())
		})
	}
}

func TestLinkType_CheckInputTables(t *testing.T) {
	ok := []struct {
		lt     LinkType
		tables []InputTable
	}{
		{LinkTypeDedupeOnly, []InputTable{{Table: "people"}}},
		{LinkTypeSelfLink, []InputTable{{Table: "people"}}},
		{LinkTypeLinkOnly, []InputTable{{Table: "a"}, {Table: "b"}, {Table: "c"}}},
		{LinkTypeLinkAndDedupe, []InputTable{{Table: "a"}}},
		{LinkTypeTwoDatasetLinkOnly, []InputTable{{Table: "people", DatasetName: "before"}, {Table: "people", DatasetName: "after"}}},
	}
	for _, tt := range ok {
		assert.NoError(t, tt.lt.CheckInputTables(tt.tables), tt.lt)
	}

	bad := []struct {
		name   string
		lt     LinkType
		tables []InputTable
		msg    string
	}{
		{"none", LinkTypeDedupeOnly, nil, "at least one input table"},
		{"blank table", LinkTypeDedupeOnly, []InputTable{{Table: "  "}}, "name is empty"},
		{"same table twice", LinkTypeTwoDatasetLinkOnly, []InputTable{{Table: "people"}, {Table: "people"}}, `share dataset name "people"`},
		{"shared dataset name", LinkTypeLinkOnly, []InputTable{{Table: "a", DatasetName: "x"}, {Table: "b", DatasetName: "x"}}, "tables 0 and 1"},
		{"dedupe with two", LinkTypeDedupeOnly, []InputTable{{Table: "a"}, {Table: "b"}}, "exactly one"},
		{"link_only with one", LinkTypeLinkOnly, []InputTable{{Table: "a"}}, "at least two"},
		{"two dataset with one", LinkTypeTwoDatasetLinkOnly, []InputTable{{Table: "a"}}, "exactly two"},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.lt.CheckInputTables(tt.tables)
			assert.ErrorIs(t, err, apperrors.ErrConfiguration)
			assert.ErrorContains(t, err, tt.msg)
		})
	}
}

func TestLinkageSettings_Validate(t *testing.T) {
	s := LinkageSettings{LinkType: LinkTypeTwoDatasetLinkOnly, InputTables: []InputTable{{Table: "people"}, {Table: "people"}}}
	assert.ErrorIs(t, s.Validate(), apperrors.ErrConfiguration)

	s.InputTables[1].DatasetName = "people_2024"
	assert.NoError(t, s.Validate())

	s.LinkType = "nope"
	assert.ErrorIs(t, s.Validate(), apperrors.ErrConfiguration)
}
