// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/jeranaias/bazi-destiny/internal/chart"
	"github.com/jeranaias/bazi-destiny/internal/logging"
)

type chartOptions struct {
	birth  birthFlags
	asJSON bool
}

func newChartCmd(root *rootOptions) *cobra.Command {
	opts := &chartOptions{}
	cmd := &cobra.Command{
		Use:   "chart",
		Short: "Compute a Four Pillars chart",
		Long: `Compute a chart locally. The birth place is geocoded through Nominatim,
so network access is needed unless the place is already cached.`,
		Example: `  bazi chart --date 1990-05-15 --time 08:30 --city Shanghai --country China
  bazi chart --date 2000-01-01 --time 12:00 --city "New York" --country USA --gender female --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := root.loadConfig()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Sync()

			calc, closeCache, err := newCalculator(cfg, logger)
			if err != nil {
				return err
			}
			defer closeCache()

			res, err := calc.Compute(cmd.Context(), opts.birth.req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.asJSON {
				enc := json.NewEncoder(out)
				enc.SetEscapeHTML(false)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			renderChart(out, res)
			return nil
		},
	}
	opts.birth.bind(cmd)
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the chart as JSON")
	return cmd
}

// =============================================================================
// CHART RENDERING
// =============================================================================

// cell pads s to width display columns. Hanzi are two columns wide, so
// byte or rune counts would misalign the table.
func cell(s string, width int) string {
	return runewidth.FillRight(s, width)
}

// table lays rows out in columns sized to their widest cell.
func table(rows [][]string) []string {
	if len(rows) == 0 {
		return nil
	}
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, c := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(c))
		}
	}

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		var b strings.Builder
		for i, c := range row {
			if i == len(row)-1 {
				b.WriteString(c)
				break
			}
			b.WriteString(cell(c, widths[i]+2))
		}
		lines = append(lines, strings.TrimRight(b.String(), " "))
	}
	return lines
}

func renderChart(w io.Writer, res *chart.Result) {
	in := res.Input

	fmt.Fprintln(w, RenderConditional(TitleStyle, "BaZi Chart"))
	for _, kv := range [][2]string{
		{"Name", orDash(in.Name)},
		{"Gender", orDash(string(in.Gender))},
		{"Place", fmt.Sprintf("%s, %s (%.4f, %.4f)", in.City, in.Country, in.Lat, in.Lon)},
		{"Time zone", in.Timezone},
		{"Local time", in.LocalISO},
		{"Beijing time", in.BeijingISO},
	} {
		fmt.Fprintln(w, RenderField(kv[0]+":", kv[1], 14))
	}
	if in.AmbiguousTime {
		fmt.Fprintln(w, RenderConditional(DimStyle, "This local time occurs twice (daylight saving change); the first occurrence was used."))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, RenderConditional(SectionStyle, "Four Pillars"))
	rows := [][]string{{"Pillar", "GanZhi", "Stem", "Branch"}}
	for _, p := range res.Pillars {
		rows = append(rows, []string{
			p.Pillar,
			p.GanZhi,
			fmt.Sprintf("%s (%s) %s", p.StemPY, p.StemCN, p.StemEl),
			fmt.Sprintf("%s (%s) %s", p.BranchPY, p.BranchCN, p.BranchEl),
		})
	}
	for i, line := range table(rows) {
		if i == 0 {
			line = RenderConditional(DimStyle, line)
		}
		fmt.Fprintln(w, "  "+line)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, RenderConditional(SectionStyle, "Ten Gods (relative to Day Stem)"))
	fmt.Fprintln(w, "  "+RenderField("Month Stem:", res.TenGods.MonthStem, 14))
	fmt.Fprintln(w, "  "+RenderField("Year Stem:", res.TenGods.YearStem, 14))
	fmt.Fprintln(w, "  "+RenderField("Hour Stem:", res.TenGods.HourStem, 14))

	fmt.Fprintln(w)
	fmt.Fprintln(w, RenderConditional(SectionStyle, "Five Elements"))
	for _, e := range chart.Elements {
		n := res.FiveElements.Count(e)
		// Pad before colouring; escape codes have no display width.
		pad := strings.Repeat(" ", 6-len(e))
		fmt.Fprintf(w, "  %s%s %d %s\n", RenderElement(e), pad, n, strings.Repeat("#", n))
	}
	fmt.Fprintln(w, "  "+RenderLabel("Dominant:", 14)+RenderElement(res.MainElement))
	fmt.Fprintln(w, "  "+RenderField("Lucky colors:", orDash(strings.Join(res.Lucky.Colors, ", ")), 14))
	nums := make([]string, len(res.Lucky.Numbers))
	for i, n := range res.Lucky.Numbers {
		nums[i] = strconv.Itoa(n)
	}
	fmt.Fprintln(w, "  "+RenderField("Lucky numbers:", orDash(strings.Join(nums, ", ")), 14))

	fmt.Fprintln(w)
	fmt.Fprintln(w, RenderConditional(SectionStyle, "10-Year Luck Cycles"))
	if len(res.LuckCycles) == 0 {
		fmt.Fprintln(w, "  "+RenderConditional(DimStyle, "Not available for this chart."))
		return
	}
	rows = [][]string{{"#", "From age", "Pillar"}}
	for _, lc := range res.LuckCycles {
		rows = append(rows, []string{strconv.Itoa(lc.Index), strconv.Itoa(lc.StartAge), lc.GanZhi})
	}
	for i, line := range table(rows) {
		if i == 0 {
			line = RenderConditional(DimStyle, line)
		}
		fmt.Fprintln(w, "  "+line)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
