/* SPDX-License-Identifier: BSD-2-Clause */

package region

import "fmt"

// Translation is the result of resolving a faulting host virtual
// address: the page-aligned fault address, the corresponding offset in
// the backing file, and that offset's segment classification.
type Translation struct {
	PageAddr uint64
	Offset   uint64
	Kind     SegmentKind
}

// Translator resolves host virtual addresses against a region table and
// a segment list. Both inputs are immutable once the Translator is
// built, so it requires no synchronization.
type Translator struct {
	regions  *Table
	segments *SegmentList
}

// NewTranslator builds a Translator from the handshake-produced region
// table and the startup-produced segment list.
func NewTranslator(regions *Table, segments *SegmentList) *Translator {
	return &Translator{regions: regions, segments: segments}
}

// Translate resolves hva into a Translation, or an error naming the
// offending address if it isn't covered by any region or the derived
// offset isn't covered by any segment — both are fatal conditions.
func (t *Translator) Translate(hva uint64) (Translation, error) {
	hvaPage := PageAlign(hva)

	offset, ok := t.regions.Lookup(hvaPage)
	if !ok {
		return Translation{}, fmt.Errorf("address %#x not covered by any guest region mapping", hva)
	}

	seg, ok := t.segments.Classify(offset)
	if !ok {
		return Translation{}, fmt.Errorf("backing-file offset %#x (from address %#x) not covered by any segment", offset, hva)
	}

	return Translation{PageAddr: hvaPage, Offset: offset, Kind: seg.Kind}, nil
}
