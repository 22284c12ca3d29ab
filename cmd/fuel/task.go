package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fuelsh/fuel/pkg/models"
)

var (
	taskAddDescription string
	taskAddType        string
	taskAddPriority    int
	taskAddComplexity  string
	taskAddEpic        string
	taskAddBlockedBy   []string
	taskAddLabels      []string
	taskAddSomeday     bool

	taskListStatus string
	taskListEpic   string
	taskListAll    bool

	taskDoneReason   string
	taskCancelReason string
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks on the board",
}

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a task to the queue",
	Long: `Add a task. The consume daemon picks up open tasks in priority order
(0 is critical, 4 is lowest) and routes them to an agent by complexity.

Examples:
  fuel task add "fix the flaky login test" -p 1 -c simple
  fuel task add "port billing to the new API" --epic e-x7k2 --type feature`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one task in detail",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskStartCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "Move a task to in_progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskStart,
}

var taskDoneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a task done",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskDone,
}

var taskReopenCmd = &cobra.Command{
	Use:   "reopen <id>",
	Short: "Return a task to open, clearing needs-human",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskReopen,
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskCancel,
}

var taskBlockCmd = &cobra.Command{
	Use:   "block <id> <blocker-id>",
	Short: "Add a dependency: the task waits for the blocker",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskBlock,
}

var taskUnblockCmd = &cobra.Command{
	Use:   "unblock <id> <blocker-id>",
	Short: "Remove a dependency",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskUnblock,
}

func init() {
	taskAddCmd.Flags().StringVarP(&taskAddDescription, "description", "d", "", "detailed description")
	taskAddCmd.Flags().StringVar(&taskAddType, "type", "task", "task type (task, bug, feature, chore)")
	taskAddCmd.Flags().IntVarP(&taskAddPriority, "priority", "p", 2, "priority 0 (critical) to 4 (lowest)")
	taskAddCmd.Flags().StringVarP(&taskAddComplexity, "complexity", "c", "", "complexity (trivial, simple, moderate, complex)")
	taskAddCmd.Flags().StringVar(&taskAddEpic, "epic", "", "owning epic id")
	taskAddCmd.Flags().StringSliceVar(&taskAddBlockedBy, "blocked-by", nil, "blocker task ids")
	taskAddCmd.Flags().StringSliceVar(&taskAddLabels, "label", nil, "labels to attach")
	taskAddCmd.Flags().BoolVar(&taskAddSomeday, "someday", false, "park the task outside the active queue")

	taskListCmd.Flags().StringVar(&taskListStatus, "status", "", "filter by status")
	taskListCmd.Flags().StringVar(&taskListEpic, "epic", "", "filter by epic id")
	taskListCmd.Flags().BoolVar(&taskListAll, "all", false, "include done and cancelled tasks")

	taskDoneCmd.Flags().StringVar(&taskDoneReason, "reason", "", "why the task is done")
	taskCancelCmd.Flags().StringVar(&taskCancelReason, "reason", "", "why the task was cancelled")

	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskStartCmd)
	taskCmd.AddCommand(taskDoneCmd)
	taskCmd.AddCommand(taskReopenCmd)
	taskCmd.AddCommand(taskCancelCmd)
	taskCmd.AddCommand(taskBlockCmd)
	taskCmd.AddCommand(taskUnblockCmd)
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	t := &models.Task{
		Title:       strings.Join(args, " "),
		Description: taskAddDescription,
		Type:        models.TaskType(taskAddType),
		Priority:    taskAddPriority,
		Complexity:  models.Complexity(taskAddComplexity),
		EpicID:      taskAddEpic,
		BlockedBy:   taskAddBlockedBy,
		Labels:      taskAddLabels,
	}
	if taskAddSomeday {
		t.Status = models.TaskStatusSomeday
	}
	if t.EpicID != "" {
		epic, err := svc.tasks.FindEpic(t.EpicID)
		if err != nil {
			return err
		}
		t.EpicID = epic.ShortID
	}
	if err := svc.tasks.Create(t); err != nil {
		return err
	}
	fmt.Printf("Created %s: %s\n", color.CyanString(t.ShortID), t.Title)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	tasks, err := svc.tasks.All()
	if err != nil {
		return err
	}

	var epicID string
	if taskListEpic != "" {
		epic, err := svc.tasks.FindEpic(taskListEpic)
		if err != nil {
			return err
		}
		epicID = epic.ShortID
	}

	shown := 0
	for _, t := range tasks {
		if taskListStatus != "" && string(t.Status) != taskListStatus {
			continue
		}
		if epicID != "" && t.EpicID != epicID {
			continue
		}
		if !taskListAll && taskListStatus == "" && t.Status.Terminal() {
			continue
		}
		printTaskLine(t)
		shown++
	}
	if shown == 0 {
		fmt.Println("No tasks. Add one with 'fuel task add \"...\"'.")
	}
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	t, err := svc.tasks.Find(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("%s  %s\n", color.CyanString(t.ShortID), t.Title)
	fmt.Printf("  Status:     %s\n", statusColor(t.Status).Sprint(string(t.Status)))
	fmt.Printf("  Type:       %s\n", t.Type)
	fmt.Printf("  Priority:   %d\n", t.Priority)
	if t.Complexity != "" {
		fmt.Printf("  Complexity: %s\n", t.Complexity)
	}
	if t.EpicID != "" {
		fmt.Printf("  Epic:       %s\n", t.EpicID)
	}
	if len(t.Labels) > 0 {
		fmt.Printf("  Labels:     %s\n", strings.Join(t.Labels, ", "))
	}
	if len(t.BlockedBy) > 0 {
		fmt.Printf("  Blocked by: %s\n", strings.Join(t.BlockedBy, ", "))
	}
	if t.Description != "" {
		fmt.Printf("  Description:\n    %s\n", strings.ReplaceAll(t.Description, "\n", "\n    "))
	}
	if len(t.LastReviewIssues) > 0 {
		fmt.Println("  Last review issues:")
		for _, issue := range t.LastReviewIssues {
			fmt.Printf("    - %s\n", issue)
		}
	}
	if t.Reason != "" {
		fmt.Printf("  Reason:     %s\n", t.Reason)
	}
	if t.CommitHash != "" {
		fmt.Printf("  Commit:     %s\n", t.CommitHash)
	}
	if t.RetryCount > 0 {
		fmt.Printf("  Retries:    %d\n", t.RetryCount)
	}
	fmt.Printf("  Created:    %s ago\n", formatAge(time.Since(t.CreatedAt)))
	if t.CompletedAt != nil {
		fmt.Printf("  Completed:  %s ago\n", formatAge(time.Since(*t.CompletedAt)))
	}
	return nil
}

func runTaskStart(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	t, err := svc.tasks.Start(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Started %s\n", color.CyanString(t.ShortID))
	return nil
}

func runTaskDone(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	t, err := svc.tasks.Done(args[0], taskDoneReason, "")
	if err != nil {
		return err
	}
	fmt.Printf("Done %s: %s\n", color.CyanString(t.ShortID), t.Title)
	return nil
}

func runTaskReopen(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	t, err := svc.tasks.Reopen(args[0])
	if err != nil {
		return err
	}
	if t.HasLabel(models.LabelNeedsHuman) {
		t.RemoveLabel(models.LabelNeedsHuman)
		if err := svc.tasks.Update(t); err != nil {
			return err
		}
	}
	fmt.Printf("Reopened %s\n", color.CyanString(t.ShortID))
	return nil
}

func runTaskCancel(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	t, err := svc.tasks.Cancel(args[0], taskCancelReason)
	if err != nil {
		return err
	}
	fmt.Printf("Cancelled %s\n", color.CyanString(t.ShortID))
	return nil
}

func runTaskBlock(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.tasks.AddDependency(args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("%s now waits for %s\n", args[0], args[1])
	return nil
}

func runTaskUnblock(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.tasks.RemoveDependency(args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("%s no longer waits for %s\n", args[0], args[1])
	return nil
}
