// Command ecsctl is a small demonstration and validation harness for the
// entity-graph core: it is not a daemon and holds no state between runs,
// since each command builds its own in-process registry.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	ecs "github.com/entityecs/core"
	"github.com/entityecs/core/internal/ecsconfig"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "ecsctl",
		Short: "Demonstration harness for the versioned entity-graph core",
	}
	root.PersistentFlags().String("log-level", "info", "logrus level (trace, debug, info, warn, error)")
	_ = v.BindPFlag("log-level", root.PersistentFlags().Lookup("log-level"))

	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		cfg := ecsconfig.Load(v)
		ecs.SetLogLevel(ecsconfig.ParseLogLevel(cfg))
	}

	root.AddCommand(newDemoCmd(), newResolveCmd(), newLineageCmd())
	return root
}

// newDemoCmd walks the worked scenarios of the entity model end to end in
// a single process: borrowing, fork-on-edit, nested fork propagation, and
// a callable execution with a mixed input pattern.
func newDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run the canonical borrow/fork/execute scenarios and print their outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo()
		},
	}
}

func runDemo() error {
	registry := ecs.NewRegistry()
	log := logrus.NewEntry(logrus.StandardLogger())

	// Scenario 1: borrowing round-trip.
	student := ecs.New("Student", map[string]any{"name": "Alice", "age": 20})
	student.PromoteToRoot()
	if _, err := registry.Register(student); err != nil {
		return err
	}
	log.WithField("ecs_id", student.ECSID).Info("registered Student Alice")

	composite, err := ecs.Create(registry, "Query", map[string]any{
		"name":      fmt.Sprintf("@%s.name", student.ECSID),
		"threshold": 3.5,
	})
	if err != nil {
		return err
	}
	fmt.Printf("composite.name = %v, source = %v\n", composite.Entity.Fields["name"], composite.Entity.AttributeSource["name"])

	// Scenario 2: fork on in-place edit.
	oldID := student.ECSID
	student.Fields["age"] = 21
	if _, err := registry.Register(student); err != nil {
		return err
	}
	fmt.Printf("student forked: %s -> %s (parent_id=%s)\n", oldID, student.ECSID, student.ParentID)

	lineage, err := registry.LineageOf(student.LineageID)
	if err != nil {
		return err
	}
	fmt.Printf("lineage: %v\n", lineage)

	// Scenario 3: nested fork propagation.
	course := ecs.New("Course", map[string]any{"title": "Algorithms", "value": 1})
	record := ecs.New("Record", map[string]any{"grades": []any{3.8, 3.9, 4.0}, "course": course})
	record.PromoteToRoot()
	if _, err := registry.Register(record); err != nil {
		return err
	}
	oldRecordID, oldCourseID := record.ECSID, course.ECSID
	course.Fields["value"] = 2
	if _, err := registry.Register(record); err != nil {
		return err
	}
	fmt.Printf("record forked: %s -> %s; course forked: %s -> %s\n", oldRecordID, record.ECSID, oldCourseID, course.ECSID)

	addr, err := ecs.Parse(fmt.Sprintf("@%s.grades.1", record.ECSID))
	if err != nil {
		return err
	}
	value, class, err := ecs.ResolveAdvanced(registry, addr)
	if err != nil {
		return err
	}
	fmt.Printf("resolve grades.1 = %v (%s)\n", value, class)

	// Scenario 4: callable execution with a mixed input pattern.
	callables := ecs.NewCallableRegistry(registry)
	callables.Register("analyze", []string{"name", "grades", "threshold"}, "Result", func(_ context.Context, input *ecs.Entity) (any, error) {
		grades, _ := input.Fields["grades"].([]any)
		var sum float64
		for _, g := range grades {
			if f, ok := g.(float64); ok {
				sum += f
			}
		}
		average := 0.0
		if len(grades) > 0 {
			average = sum / float64(len(grades))
		}
		result := ecs.New("Result", map[string]any{
			"name":    input.Fields["name"],
			"average": average,
		})
		return result, nil
	})

	output, execution, err := callables.Execute(context.Background(), "analyze", map[string]any{
		"name":      fmt.Sprintf("@%s.name", student.ECSID),
		"grades":    fmt.Sprintf("@%s.grades", record.ECSID),
		"threshold": 3.5,
	})
	if err != nil {
		return err
	}
	result := output.(*ecs.Entity)
	fmt.Printf("analyze -> Result{name=%v, average=%v}, execution=%s, pattern=%s\n",
		result.Fields["name"], result.Fields["average"], execution.ECSID, execution.Pattern)

	return nil
}

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <address>",
		Short: "Parse an address string and print its grammar without a registry lookup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := ecs.Parse(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("uuid=%s segments=%v\n", addr.UUID, addr.Segments)
			return nil
		},
	}
}

func newLineageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lineage <lineage-id>",
		Short: "Look up a lineage in a fresh, empty registry (illustrative only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return err
			}
			registry := ecs.NewRegistry()
			versions, err := registry.LineageOf(id)
			if err != nil {
				if errors.Is(err, ecs.ErrUnknownEntity) {
					fmt.Println("no such lineage in a fresh registry; run `ecsctl demo` to see a populated example")
					return nil
				}
				return err
			}
			sort.Slice(versions, func(i, j int) bool { return versions[i].String() < versions[j].String() })
			fmt.Println(versions)
			return nil
		},
	}
}
