package main

import (
	"fmt"
	"os/user"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fuelsh/fuel/internal/git"
	"github.com/fuelsh/fuel/internal/mirror"
	"github.com/fuelsh/fuel/pkg/models"
)

var (
	epicAddDescription string
	epicAddSelfGuided  bool
	epicAddMirror      bool
	epicApproveBy      string
)

var epicCmd = &cobra.Command{
	Use:   "epic",
	Short: "Manage epics",
	Long: `Epics group tasks under a shared plan file. With mirrors enabled the
epic's tasks run in an isolated clone on branch epic/{id}, and approval
enqueues a merge task that brings the branch back.`,
}

var epicAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create an epic with a plan file",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runEpicAdd,
}

var epicListCmd = &cobra.Command{
	Use:   "list",
	Short: "List epics",
	RunE:  runEpicList,
}

var epicShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one epic and its tasks",
	Args:  cobra.ExactArgs(1),
	RunE:  runEpicShow,
}

var epicPauseCmd = &cobra.Command{
	Use:   "pause <id>",
	Short: "Pause an epic; its tasks stop being scheduled",
	Args:  cobra.ExactArgs(1),
	RunE:  runEpicPause,
}

var epicResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume a paused epic",
	Args:  cobra.ExactArgs(1),
	RunE:  runEpicResume,
}

var epicApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve an epic; a ready mirror gets a merge task",
	Args:  cobra.ExactArgs(1),
	RunE:  runEpicApprove,
}

var epicRetryMergeCmd = &cobra.Command{
	Use:   "retry-merge <id>",
	Short: "Put a failed epic merge back in the queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runEpicRetryMerge,
}

func init() {
	epicAddCmd.Flags().StringVarP(&epicAddDescription, "description", "d", "", "epic goal description")
	epicAddCmd.Flags().BoolVar(&epicAddSelfGuided, "self-guided", false, "run the epic as a self-guided iteration loop")
	epicAddCmd.Flags().BoolVar(&epicAddMirror, "mirror", false, "force an isolated mirror clone for this epic")

	epicApproveCmd.Flags().StringVar(&epicApproveBy, "by", "", "approver name (defaults to the current user)")

	epicCmd.AddCommand(epicAddCmd)
	epicCmd.AddCommand(epicListCmd)
	epicCmd.AddCommand(epicShowCmd)
	epicCmd.AddCommand(epicPauseCmd)
	epicCmd.AddCommand(epicResumeCmd)
	epicCmd.AddCommand(epicApproveCmd)
	epicCmd.AddCommand(epicRetryMergeCmd)
}

func runEpicAdd(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	e := &models.Epic{
		Title:       strings.Join(args, " "),
		Description: epicAddDescription,
		SelfGuided:  epicAddSelfGuided,
	}
	mirrored := epicAddMirror || svc.cfg.EpicMirrors
	if err := svc.tasks.CreateEpic(e, mirrored); err != nil {
		return err
	}
	fmt.Printf("Created epic %s: %s\n", color.CyanString(e.ShortID), e.Title)
	fmt.Printf("  Plan: %s\n", e.PlanFilename)
	if mirrored {
		fmt.Println("  Mirror: pending (the daemon builds it on its next tick)")
	}
	if e.SelfGuided {
		fmt.Printf("  Self-guided: add one task under this epic to drive the loop,\n")
		fmt.Printf("  e.g. fuel task add \"iterate on %s\" --epic %s\n", e.Title, e.ShortID)
	}
	return nil
}

func runEpicList(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	epics, err := svc.store.Epics.All()
	if err != nil {
		return err
	}
	if len(epics) == 0 {
		fmt.Println("No epics. Create one with 'fuel epic add \"...\"'.")
		return nil
	}
	for _, e := range epics {
		status, err := svc.tasks.EpicStatus(e)
		if err != nil {
			return err
		}
		line := fmt.Sprintf("%s  %-18s %s", color.CyanString(e.ShortID), string(status), e.Title)
		if e.MirrorStatus != models.MirrorNone {
			line += color.HiBlackString(" mirror:%s", e.MirrorStatus)
		}
		fmt.Println(line)
	}
	return nil
}

func runEpicShow(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	e, err := svc.tasks.FindEpic(args[0])
	if err != nil {
		return err
	}
	status, err := svc.tasks.EpicStatus(e)
	if err != nil {
		return err
	}

	fmt.Printf("%s  %s\n", color.CyanString(e.ShortID), e.Title)
	fmt.Printf("  Status: %s\n", status)
	if e.Description != "" {
		fmt.Printf("  Description: %s\n", e.Description)
	}
	if e.SelfGuided {
		fmt.Println("  Self-guided: yes")
	}
	if e.PlanFilename != "" {
		fmt.Printf("  Plan: %s\n", e.PlanFilename)
	}
	if e.MirrorStatus != models.MirrorNone {
		fmt.Printf("  Mirror: %s", e.MirrorStatus)
		if e.MirrorBranch != "" {
			fmt.Printf(" on %s", e.MirrorBranch)
		}
		fmt.Println()
	}
	if e.ApprovedAt != nil {
		fmt.Printf("  Approved by %s\n", e.ApprovedBy)
	}

	tasks, err := svc.store.Tasks.ByEpic(e.ShortID)
	if err != nil {
		return err
	}
	if len(tasks) > 0 {
		fmt.Println("  Tasks:")
		for _, t := range tasks {
			fmt.Print("    ")
			printTaskLine(t)
		}
	}
	return nil
}

func runEpicPause(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	e, err := svc.tasks.PauseEpic(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Paused epic %s\n", color.CyanString(e.ShortID))
	return nil
}

func runEpicResume(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	e, err := svc.tasks.ResumeEpic(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Resumed epic %s\n", color.CyanString(e.ShortID))
	return nil
}

func runEpicApprove(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	by := epicApproveBy
	if by == "" {
		if u, err := user.Current(); err == nil {
			by = u.Username
		}
	}

	e, mergeTask, err := svc.tasks.ApproveEpic(args[0], by)
	if err != nil {
		return err
	}
	fmt.Printf("Approved epic %s\n", color.CyanString(e.ShortID))
	if mergeTask != nil {
		fmt.Printf("  Merge task %s queued; the daemon merges %s back next tick\n",
			color.CyanString(mergeTask.ShortID), e.MirrorBranch)
	}
	return nil
}

func runEpicRetryMerge(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	e, err := svc.tasks.FindEpic(args[0])
	if err != nil {
		return err
	}
	mgr := mirror.NewManager(svc.store, svc.ws, func(path string) git.Runner {
		return git.NewRunner(path)
	}, svc.log)
	if err := mgr.RetryMerge(e); err != nil {
		return err
	}
	// A failed merge pauses the epic and drops its merge task; retrying
	// undoes both.
	if e.PausedAt != nil {
		e.PausedAt = nil
		if err := svc.store.Epics.Update(e); err != nil {
			return err
		}
	}
	mergeTask, err := svc.tasks.EnqueueMergeTask(e)
	if err != nil {
		return err
	}
	fmt.Printf("Mirror for %s is ready again; merge task %s enqueued\n",
		color.CyanString(e.ShortID), color.CyanString(mergeTask.ShortID))
	return nil
}
