package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/pterm/pterm"

	"github.com/starford/guildsync/internal"
	"github.com/starford/guildsync/internal/gallery"
	"github.com/starford/guildsync/internal/manifest"
)

func reportsOf(rep *gallery.Report) []*gallery.Report {
	return []*gallery.Report{rep}
}

func skippedCount(reports []*gallery.Report) int {
	n := 0
	for _, r := range reports {
		n += len(r.Skipped)
	}
	return n
}

func printReports(reports []*gallery.Report) {
	if len(reports) == 0 {
		return
	}
	data := pterm.TableData{{"Character", "Mode", "Promoted", "Kept", "Added", "Removed", "Renamed", "Skipped", "Gallery"}}
	for _, r := range reports {
		data = append(data, []string{
			r.Character,
			r.Mode,
			strconv.Itoa(len(r.Promoted)),
			strconv.Itoa(len(r.Kept)),
			strconv.Itoa(len(r.Added)),
			strconv.Itoa(len(r.Removed)),
			strconv.Itoa(len(r.Renamed)),
			strconv.Itoa(len(r.Skipped)),
			strconv.Itoa(len(r.Gallery)),
		})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithHeaderRowSeparator("-").WithData(data).Render()

	for _, r := range reports {
		if len(r.Renamed) > 0 {
			from := make([]string, 0, len(r.Renamed))
			for k := range r.Renamed {
				from = append(from, k)
			}
			sort.Strings(from)
			for _, k := range from {
				pterm.Info.Printfln("%s: %s -> %s", r.Character, k, r.Renamed[k])
			}
		}
		for _, s := range r.Skipped {
			pterm.Warning.Printfln("%s: skipped %s at %s: %s", r.Character, s.Name, s.Stage, s.Reason)
		}
	}
}

func printRuns(runs []manifest.RunRow) {
	if len(runs) == 0 {
		pterm.Info.Println("no runs recorded")
		return
	}
	data := pterm.TableData{{"ID", "Mode", "Started", "Duration", "Promoted", "Kept", "Added", "Removed", "Skipped"}}
	for _, r := range runs {
		data = append(data, []string{
			strconv.FormatInt(r.ID, 10),
			r.Mode,
			r.StartedAt.Local().Format(time.DateTime),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
			strconv.Itoa(r.Promoted),
			strconv.Itoa(r.Kept),
			strconv.Itoa(r.Added),
			strconv.Itoa(r.Removed),
			strconv.Itoa(r.Skipped),
		})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithHeaderRowSeparator("-").WithData(data).Render()
}

func printRefs(res *internal.RefsResult) {
	if len(res.Missing) == 0 {
		pterm.Success.Printfln("no broken references (%d checked)", len(res.Refs))
		return
	}
	data := pterm.TableData{{"Page", "Line", "Field", "Character", "File"}}
	for _, r := range res.Missing {
		data = append(data, []string{r.Page, fmt.Sprint(r.Line), r.Field, r.Character.String(), r.File})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithHeaderRowSeparator("-").WithData(data).Render()
	pterm.Warning.Printfln("%d of %d references point at missing files", len(res.Missing), len(res.Refs))
}
