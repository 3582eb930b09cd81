package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"campus-portal/internal/academic"
	"campus-portal/internal/calendar"
	"campus-portal/internal/service"
	"campus-portal/pkg/database"
	"campus-portal/pkg/jwt"
)

const displayLayout = "2006-01-02 15:04"

// ── expand ──

func newExpandCmd(a *app) *cobra.Command {
	var start, end string

	cmd := &cobra.Command{
		Use:   "expand <file.ics>",
		Short: "展开 ICS 中的事件并裁剪到窗口",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := a.cfg.Calendar.Location()
			if err != nil {
				return err
			}
			windowStart, err := time.ParseInLocation(time.DateOnly, start, loc)
			if err != nil {
				return fmt.Errorf("无效的 --start: %w", err)
			}
			windowEnd, err := time.ParseInLocation(time.DateOnly, end, loc)
			if err != nil {
				return fmt.Errorf("无效的 --end: %w", err)
			}
			// --end 当天包含在窗口内
			windowEnd = windowEnd.Add(24*time.Hour - time.Minute)

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			events, skipped, err := service.ParseICS(f, loc)
			if err != nil {
				return err
			}
			if skipped > 0 {
				a.logger.Warn("部分 VEVENT 无法表示，已跳过", zap.Int("skipped", skipped))
			}

			display, err := calendar.Clip(events, windowStart, windowEnd)
			if err != nil {
				return err
			}
			return printDisplay(cmd.OutOrStdout(), display, loc)
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "窗口起始日期 YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "窗口结束日期 YYYY-MM-DD（含）")
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")
	return cmd
}

func printDisplay(out io.Writer, display []calendar.DisplayEvent, loc *time.Location) error {
	allDay, timed := calendar.SplitLanes(display)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "开始\t结束\t标题\t标签")
	for _, d := range append(allDay, timed...) {
		startText := d.DisplayStart.In(loc).Format(displayLayout)
		endText := d.DisplayEnd.In(loc).Format(displayLayout)
		if d.IsAllDay {
			startText, endText = d.DisplayStart.In(loc).Format(time.DateOnly), "全天"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", startText, endText, d.Title, d.Tag)
	}
	return w.Flush()
}

// ── project ──

func newProjectCmd(a *app) *cobra.Command {
	var lang string

	cmd := &cobra.Command{
		Use:   "project <sections.json>",
		Short: "将选课时段投影为日历事件，输出 ICS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := a.cfg.Calendar.Location()
			if err != nil {
				return err
			}
			tables := academic.Default(loc)
			if a.cfg.Academic.TablesPath != "" {
				if tables, err = academic.Load(a.cfg.Academic.TablesPath, loc); err != nil {
					return err
				}
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var sections []academic.CourseTimeslotData
			if err := json.Unmarshal(data, &sections); err != nil {
				return fmt.Errorf("解析选课时段失败: %w", err)
			}

			if lang == "" {
				lang = a.cfg.Calendar.DefaultLanguage
			}
			events, err := service.NewProjector(tables).Project(sections, lang)
			if err != nil {
				return err
			}
			a.logger.Info("投影完成", zap.Int("sections", len(sections)), zap.Int("events", len(events)))

			_, err = io.WriteString(cmd.OutOrStdout(), service.EncodeICS(events, time.Now()))
			return err
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "", "课程名称语言（默认 calendar.default_language）")
	return cmd
}

// ── token ──

func newTokenCmd(a *app) *cobra.Command {
	var (
		userID    string
		tokenType string
		ttl       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "签发 Access / 副本 Token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr := jwt.NewManager(&a.cfg.Auth)

			var (
				token string
				err   error
			)
			switch tokenType {
			case jwt.TokenTypeAccess:
				token, err = mgr.GenerateAccessToken(userID)
			case jwt.TokenTypeReplica:
				token, err = mgr.GenerateReplicaToken(userID, ttl)
			default:
				return fmt.Errorf("未知的 Token 类型 %q", tokenType)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "用户 ID")
	cmd.Flags().StringVar(&tokenType, "type", jwt.TokenTypeReplica, "Token 类型 access | replica")
	cmd.Flags().DurationVar(&ttl, "ttl", 90*24*time.Hour, "副本 Token 有效期")
	cmd.MarkFlagRequired("user")
	return cmd
}

// ── migrate ──

func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "主库数据库迁移",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "执行全部未应用的迁移",
		RunE: func(_ *cobra.Command, _ []string) error {
			db, err := database.NewDB(&a.cfg.Database, a.logger)
			if err != nil {
				return err
			}
			return database.RunMigrations(db, a.logger)
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "回滚迁移",
		RunE: func(_ *cobra.Command, _ []string) error {
			db, err := database.NewDB(&a.cfg.Database, a.logger)
			if err != nil {
				return err
			}
			return database.RollbackMigrations(db, steps, a.logger)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "回滚步数")

	cmd.AddCommand(up, down)
	return cmd
}
