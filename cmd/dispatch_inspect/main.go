// dispatch_inspect prints the operator routing tables of a dispatcher with
// the standard kernels and the selected interception layers installed, and
// can run a small traced demonstration of the interception mechanism.
//
// Set GODISPATCH_TRACE=1 to also log every dispatch decision of the demo.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/go-dispatch/dense"
	"github.com/gomlx/go-dispatch/dispatch"
	"github.com/gomlx/go-dispatch/flatview"
	"github.com/gomlx/go-dispatch/negview"
	"github.com/gomlx/go-dispatch/tensors"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagOps = flag.Bool("ops", true, "Lists the defined operators, their signatures and how each "+
		"dispatch key routes them: a registered kernel, a pass-through or the key's generic fallback.")
	flagLayers = flag.String("layers", "flatview,negview", "Comma-separated list of interception layers "+
		"to install on top of the dense kernels. Known layers: flatview, negview.")
	flagDemo = flag.Bool("demo", false, "Runs an in-place add on a handle marked for both layers and "+
		"prints the tensor states before and after, showing identity preservation and the write-back.")
)

func main() {
	flag.Parse()
	if len(flag.Args()) > 0 {
		klog.Errorf("Unexpected arguments %q. See 'dispatch_inspect -help'.", flag.Args())
		os.Exit(1)
	}

	d := newDispatcher()
	if *flagOps {
		reportOps(d)
	}
	if *flagDemo {
		demo(d)
	}
}

func newDispatcher() *dispatch.Dispatcher {
	d := dispatch.New()
	must.M(dense.Install(d))
	for _, name := range strings.Split(*flagLayers, ",") {
		switch strings.TrimSpace(name) {
		case "flatview":
			must.M(flatview.Install(d))
		case "negview":
			must.M(negview.Install(d))
		case "":
		default:
			klog.Errorf("Unknown interception layer %q in -layers. See 'dispatch_inspect -help'.", name)
			os.Exit(1)
		}
	}
	return d
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				s = headerRowStyle
				return
			}
			switch {
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

func reportOps(d *dispatch.Dispatcher) {
	fmt.Println(titleStyle.Render("Operators"))
	table := newPlainTable(true)
	header := []string{"Operator", "Signature", "Class"}
	for key := dispatch.KeyDense; key < dispatch.KeyLast; key++ {
		header = append(header, key.String())
	}
	table.Row(header...)
	for _, op := range d.Operators() {
		row := []string{op.Name(), op.Schema().String(), opClass(op.Type())}
		for key := dispatch.KeyDense; key < dispatch.KeyLast; key++ {
			row = append(row, routeLabel(d, op, key))
		}
		table.Row(row...)
	}
	fmt.Println(table.Render())
}

func opClass(op dispatch.OpType) string {
	switch {
	case dense.OutOfPlaceOps.Has(op):
		return "out-of-place"
	case dense.InPlaceOps.Has(op):
		return "in-place"
	case dense.ViewOps.Has(op):
		return "view"
	}
	return ""
}

func routeLabel(d *dispatch.Dispatcher, op *dispatch.Operator, key dispatch.Key) string {
	switch {
	case op.PassesThrough(key):
		return "pass-through"
	case op.HasKernel(key):
		return "kernel"
	case d.HasFallback(key):
		return "fallback"
	}
	return "-"
}

func demo(d *dispatch.Dispatcher) {
	fmt.Println(titleStyle.Render("Demo: add_ on a handle marked FlatView+NegView"))

	h := negview.View(flatview.View(tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2)))
	other := flatview.View(tensors.FromFlatDataAndDimensions([]float32{10, 20, 30, 40}, 2, 2))

	table := newPlainTable(true)
	table.Row("Handle", "Shape", "Keys", "Stored", "Logical", "Bytes")
	demoRow(table, "self (before)", h)
	demoRow(table, "other", other)

	stack := dispatch.NewStack(dispatch.TensorValue(h), dispatch.TensorValue(other))
	must.M(d.Call(dispatch.OpTypeAddInPlace, stack))

	demoRow(table, "self (after)", h)
	fmt.Println(table.Render())

	if out, ok := stack.Output(0).Tensor().(*tensors.Tensor); ok && out == h {
		fmt.Println("The returned output is the same handle the caller passed in.")
	}
}

func demoRow(table *lgtable.Table, name string, t *tensors.Tensor) {
	table.Row(name,
		t.Shape().String(),
		t.Keys().String(),
		fmt.Sprintf("%v", tensors.FlatData[float32](t)),
		fmt.Sprintf("%v", tensors.FlatData[float32](negview.Resolve(t))),
		humanize.Bytes(uint64(t.Shape().Memory())))
}
