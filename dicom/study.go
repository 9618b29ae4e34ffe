package dicom

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"image-volume-builder/models"
)

// wsiSOPClassUID marks whole-slide-image instances, which are handled by a
// dedicated pipeline and must not be merged into regular volumes.
const wsiSOPClassUID = "1.2.840.10008.5.1.4.1.1.77.1.6"

// groupKey partitions headers into candidate volumes. Grouping by StackID
// (falling back to SeriesInstanceUID) and additionally by SOP class keeps
// auxiliary instances such as dose reports, which sometimes share a series
// UID with image data, out of the volume.
type groupKey struct {
	studyUID    string
	stackID     string
	sopClassUID string
}

// sliceFile is one input file together with its decoded header.
type sliceFile struct {
	path   string
	header Header
}

// VolumeGroup is a set of headers that form one logical 3D or 4D volume.
type VolumeGroup struct {
	key   groupKey
	name  string
	files []*sliceFile

	// nTime is the number of timepoints; 0 for plain 3D volumes.
	nTime          int
	nSlices        int
	nSlicesPerFile int
}

func (g *VolumeGroup) dimensions() int {
	if g.nTime > 1 {
		return 4
	}
	return 3
}

func (g *VolumeGroup) paths() []string {
	paths := make([]string, len(g.files))
	for i, f := range g.files {
		paths[i] = f.path
	}
	return paths
}

func (g *VolumeGroup) ref() Header {
	return g.files[0].header
}

func formatError(message string) string {
	return "Dicom image builder: " + message
}

// collectGroups decodes every header and partitions the files into
// candidate volume groups. Decode failures are recorded per file and never
// abort the batch.
func (b *Builder) collectGroups(files []string, fileErrors models.FileErrors) []*VolumeGroup {
	groups := map[groupKey]*VolumeGroup{}
	var order []groupKey
	indices := map[string]map[groupKey]int{}

	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	for _, path := range sorted {
		header, err := b.decodeHeader(path)
		if err != nil {
			fileErrors.Add(path, formatError(err.Error()))
			continue
		}

		studyUID, ok := lookupString(header, "StudyInstanceUID")
		if !ok {
			fileErrors.Add(path, formatError("missing StudyInstanceUID"))
			continue
		}
		seriesUID, ok := lookupString(header, "SeriesInstanceUID")
		if !ok {
			fileErrors.Add(path, formatError("missing SeriesInstanceUID"))
			continue
		}
		sopClassUID, ok := lookupString(header, "SOPClassUID")
		if !ok {
			fileErrors.Add(path, formatError("missing SOPClassUID"))
			continue
		}

		// 4D acquisitions may spread one stack over several series, so the
		// stack ID wins over the series UID when present.
		stackID, ok := lookupString(header, "StackID")
		if !ok {
			stackID = seriesUID
		}

		key := groupKey{studyUID: studyUID, stackID: stackID, sopClassUID: sopClassUID}
		group, exists := groups[key]
		if !exists {
			if indices[studyUID] == nil {
				indices[studyUID] = map[groupKey]int{}
			}
			index, seen := indices[studyUID][key]
			if !seen {
				index = len(indices[studyUID])
				indices[studyUID][key] = index
			}
			group = &VolumeGroup{
				key:  key,
				name: fmt.Sprintf("%s-%d", studyUID, index),
			}
			groups[key] = group
			order = append(order, key)
		}
		group.files = append(group.files, &sliceFile{path: path, header: header})
	}

	var result []*VolumeGroup
	for _, key := range order {
		if group := b.validateGroup(groups[key], fileErrors); group != nil {
			result = append(result, group)
		}
	}
	return result
}

// validateGroup confirms that a group forms a rectangular 3D or 4D grid.
// Groups that do not are rejected with an error against every member file.
func (b *Builder) validateGroup(g *VolumeGroup, fileErrors models.FileErrors) *VolumeGroup {
	if g.key.sopClassUID == wsiSOPClassUID {
		for _, f := range g.files {
			fileErrors.Add(f.path, formatError("WSI-DICOM not supported by DICOM builder"))
		}
		return nil
	}

	timepoints := map[int]struct{}{}
	for _, f := range g.files {
		if index, ok := lookupInt(f.header, "TemporalPositionIndex"); ok {
			timepoints[index] = struct{}{}
		}
	}
	nTime := len(timepoints)

	ref := g.ref()
	nSlicesPerFile := 1
	if frames, ok := lookupHeaders(ref, "PerFrameFunctionalGroupsSequence"); ok {
		nSlicesPerFile = len(frames)
	} else if n, ok := lookupInt(ref, "NumberOfFrames"); ok {
		nSlicesPerFile = n
	}
	totalFrames := len(g.files) * nSlicesPerFile

	g.nSlicesPerFile = nSlicesPerFile
	switch {
	case nTime < 2:
		g.nTime = 0
		g.nSlices = totalFrames
	case totalFrames%nTime != 0:
		for _, f := range g.files {
			fileErrors.Add(f.path, formatError("Number of slices per time point differs"))
		}
		return nil
	default:
		g.nTime = nTime
		g.nSlices = totalFrames / nTime
	}
	return g
}

// sortByInstanceNumber orders the group's files for slice accumulation.
// InstanceNumber may count up or down the scan axis; the geometry pass
// resolves which one it is.
func (g *VolumeGroup) sortByInstanceNumber() error {
	if len(g.files) == 1 {
		return nil
	}

	type numbered struct {
		n    int
		file *sliceFile
	}
	ordered := make([]numbered, len(g.files))
	for i, f := range g.files {
		value, ok := lookupString(f.header, "InstanceNumber")
		if !ok {
			return fmt.Errorf("could not determine slice order due to missing or invalid InstanceNumber")
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("could not determine slice order due to missing or invalid InstanceNumber")
		}
		ordered[i] = numbered{n: n, file: f}
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].n < ordered[j].n
	})
	for i, o := range ordered {
		g.files[i] = o.file
	}
	return nil
}
