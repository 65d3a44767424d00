package main

import "sort"

// This file implements §4.2's section, part and group splitters. Each
// splitter peels disjoint prefixes off a shared byte slice, the same
// "never two owners for the same byte" discipline the teacher's arena.go
// bump allocator uses for generated-code buffers, expressed here as slice
// arithmetic instead of a pointer bump, because our owners are determined
// up front by Layout rather than requested one allocation at a time.

// SplitIntoSections yields a map section_id -> mutable byte slice, such
// that slices are pairwise disjoint, contained in [0, len(buf)), and
// appear in file-offset order. Gaps between sections (padding) are left
// untouched in buf and are not handed out to anyone.
func SplitIntoSections(buf []byte, layout *Layout) (map[SectionID][]byte, error) {
	sections := append([]SectionAlloc(nil), layout.Sections...)
	sort.Slice(sections, func(i, j int) bool { return sections[i].FileOffset < sections[j].FileOffset })

	out := make(map[SectionID][]byte, len(sections))
	cursor := uint64(0)
	for _, s := range sections {
		if s.FileOffset < cursor {
			return nil, &InternalError{Msg: "sections out of file-offset order"}
		}
		end := s.FileOffset + s.FileSize
		if end > uint64(len(buf)) {
			return nil, &InternalError{Msg: "section allocation exceeds output buffer length"}
		}
		out[s.SectionID] = buf[s.FileOffset:end]
		cursor = end
	}
	return out, nil
}

// SplitByAlignment walks parts in output order (PartOrder: sections in
// segment order, each section's parts by descending alignment), peeling
// a prefix of exact FileSize off that part's section slice for each part.
// sectionMap is mutated in place: each entry shrinks by the part it gave
// up, so a second call after all parts were split sees the leftover
// padding only.
func SplitByAlignment(sectionMap map[SectionID][]byte, layout *Layout) (map[PartKey][]byte, error) {
	partMap := make(map[PartKey][]byte, len(layout.PartOrder))
	for _, key := range layout.PartOrder {
		part, ok := layout.Parts[key]
		if !ok {
			return nil, &InternalError{Msg: "part in PartOrder missing from Layout.Parts"}
		}
		remaining, ok := sectionMap[key.SectionID]
		if !ok {
			return nil, &InternalError{Msg: "part references unknown section id"}
		}
		if uint64(len(remaining)) < part.FileSize {
			return nil, &InternalError{Msg: "section slice exhausted before all its parts were split"}
		}
		partMap[key] = remaining[:part.FileSize]
		sectionMap[key.SectionID] = remaining[part.FileSize:]
	}
	return partMap, nil
}

// GroupPartMap is one group's view of every part it contributes to: a
// disjoint, contiguous sub-slice sized exactly to that group's
// FileSizes[part] entry.
type GroupPartMap map[PartKey][]byte

// SplitByGroup gives each group a prefix of every part equal to that
// group's file-size share, in group order. After all groups have taken
// their share, partMap's slices must all be empty — any remainder
// indicates a layout/writer size mismatch and is reported eagerly so the
// bug surfaces before any group starts writing, rather than silently
// leaving trailing garbage in the output.
func SplitByGroup(partMap map[PartKey][]byte, groups []*GroupLayout) ([]GroupPartMap, error) {
	result := make([]GroupPartMap, len(groups))
	for i, g := range groups {
		gm := make(GroupPartMap, len(g.FileSizes))
		for key, size := range g.FileSizes {
			remaining, ok := partMap[key]
			if !ok {
				return nil, &InternalError{Msg: "group references a part absent from the part map"}
			}
			if uint64(len(remaining)) < size {
				return nil, &InternalError{Msg: "part slice exhausted before all groups took their share"}
			}
			gm[key] = remaining[:size]
			partMap[key] = remaining[size:]
		}
		result[i] = gm
	}
	for key, remaining := range partMap {
		if len(remaining) != 0 {
			return nil, newAllocationError(partName(key), uint64(len(remaining)), int64(len(remaining)), verifyAllocationsEnvSet())
		}
	}
	return result, nil
}

func partName(key PartKey) string {
	return "section " + sectionIDString(key.SectionID)
}
