package models

import (
	"fmt"
	"strings"

	"github.com/vfrank66/splink/pkg/apperrors"
)

// LinkType describes which record pairs a linkage job may compare.
type LinkType string

const (
	LinkTypeDedupeOnly         LinkType = "dedupe_only"
	LinkTypeLinkOnly           LinkType = "link_only"
	LinkTypeLinkAndDedupe      LinkType = "link_and_dedupe"
	LinkTypeTwoDatasetLinkOnly LinkType = "two_dataset_link_only"
	LinkTypeSelfLink           LinkType = "self_link"
)

// ValidLinkTypes contains all valid link type values.
var ValidLinkTypes = []LinkType{
	LinkTypeDedupeOnly,
	LinkTypeLinkOnly,
	LinkTypeLinkAndDedupe,
	LinkTypeTwoDatasetLinkOnly,
	LinkTypeSelfLink,
}

// ParseLinkType validates s and returns the matching LinkType.
func ParseLinkType(s string) (LinkType, error) {
	lt := LinkType(strings.TrimSpace(strings.ToLower(s)))
	for _, v := range ValidLinkTypes {
		if v == lt {
			return lt, nil
		}
	}
	return "", fmt.Errorf("%w: unknown link_type %q", apperrors.ErrConfiguration, s)
}

// SpansDatasets reports whether records come from more than one input
// dataset, which means the source dataset column takes part in record ids.
func (lt LinkType) SpansDatasets() bool {
	switch lt {
	case LinkTypeLinkOnly, LinkTypeLinkAndDedupe, LinkTypeTwoDatasetLinkOnly:
		return true
	default:
		return false
	}
}

// SameInputSet reports whether the left and right sides of the self join
// read the same physical record set.
func (lt LinkType) SameInputSet() bool {
	return lt != LinkTypeTwoDatasetLinkOnly
}

// OrdersPairs reports whether pairs are emitted once per unordered pair
// via an id_l < id_r inequality.
func (lt LinkType) OrdersPairs() bool {
	switch lt {
	case LinkTypeDedupeOnly, LinkTypeLinkOnly, LinkTypeLinkAndDedupe:
		return true
	default:
		return false
	}
}

// CheckInputTables validates tables against the link type: the table count
// it allows and, because the source dataset column identifies records,
// distinct dataset names.
func (lt LinkType) CheckInputTables(tables []InputTable) error {
	if len(tables) == 0 {
		return fmt.Errorf("%w: at least one input table is required", apperrors.ErrConfiguration)
	}
	seen := make(map[string]int, len(tables))
	for i, t := range tables {
		if strings.TrimSpace(t.Table) == "" {
			return fmt.Errorf("%w: input table name is empty", apperrors.ErrConfiguration)
		}
		if j, dup := seen[t.Dataset()]; dup {
			return fmt.Errorf("%w: input tables %d and %d share dataset name %q; set a distinct dataset_name",
				apperrors.ErrConfiguration, j, i, t.Dataset())
		}
		seen[t.Dataset()] = i
	}

	switch lt {
	case LinkTypeDedupeOnly, LinkTypeSelfLink:
		if len(tables) != 1 {
			return fmt.Errorf("%w: link_type %s takes exactly one input table, got %d",
				apperrors.ErrConfiguration, lt, len(tables))
		}
	case LinkTypeLinkOnly:
		if len(tables) < 2 {
			return fmt.Errorf("%w: link_type link_only needs at least two input tables",
				apperrors.ErrConfiguration)
		}
	case LinkTypeTwoDatasetLinkOnly:
		if len(tables) != 2 {
			return fmt.Errorf("%w: link_type two_dataset_link_only needs exactly two input tables, got %d",
				apperrors.ErrConfiguration, len(tables))
		}
	}
	return nil
}
