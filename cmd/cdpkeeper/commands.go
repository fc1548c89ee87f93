package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cdpkeeper/internal/logger"
	"cdpkeeper/pkg/api"
	"cdpkeeper/pkg/model"
	"cdpkeeper/pkg/traffic"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Create a session and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc api.Service, _ logger.Logger) error {
				id, err := svc.StartSession(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Println(id)
				return nil
			})
		},
	}
}

func onStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onstart [session-id]",
		Short: "Open a decoy tab for a session (creates the session when no id is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc api.Service, _ logger.Logger) error {
				ctx := cmd.Context()
				var id model.SessionID
				if len(args) > 0 {
					id = model.SessionID(args[0])
				} else {
					var err error
					if id, err = svc.StartSession(ctx); err != nil {
						return err
					}
				}
				st, err := svc.OnStart(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(model.SessionInfo{ID: id, State: st})
			})
		},
	}
}

func iterateCmd() *cobra.Command {
	var (
		count int
		url   string
	)
	cmd := &cobra.Command{
		Use:   "iterate <session-id>",
		Short: "Record proxied requests and run any scheduled refresh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return fmt.Errorf("--count must be positive")
			}
			return withService(func(svc api.Service, l logger.Logger) error {
				id := model.SessionID(args[0])
				req := traffic.NewRequest()
				req.URL = url
				ex := traffic.Exchange{Request: req, Response: traffic.NewResponse()}

				var st model.SessionState
				for i := 0; i < count; i++ {
					var err error
					st, err = svc.AfterIteration(cmd.Context(), id, ex)
					if err != nil {
						// 计数已保存，继续后续请求
						l.Err(err, "迭代失败", "request_count", st.RequestCount)
					}
				}
				st, err := svc.State(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(model.SessionInfo{ID: id, State: st})
			})
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of requests to record")
	cmd.Flags().StringVar(&url, "url", "", "URL of the proxied request, used for logging")
	return cmd
}

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <session-id>",
		Short: "Reload the session tab now, reopening it when lost",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc api.Service, _ logger.Logger) error {
				id := model.SessionID(args[0])
				st, err := svc.Refresh(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(model.SessionInfo{ID: id, State: st})
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show the stored state of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc api.Service, _ logger.Logger) error {
				id := model.SessionID(args[0])
				st, err := svc.State(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(model.SessionInfo{ID: id, State: st})
			})
		},
	}
}

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc api.Service, _ logger.Logger) error {
				list, err := svc.ListSessions(cmd.Context())
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Println("No sessions found.")
					return nil
				}
				for _, s := range list {
					tab := string(s.State.OpenTabTargetID)
					if tab == "" {
						tab = "-"
					}
					fmt.Printf("%s  requests=%d refreshes=%d tab=%s updated=%s\n",
						s.ID, s.State.RequestCount, s.State.RefreshCount, tab, s.UpdatedAt.Format("2006-01-02 15:04:05"))
				}
				return nil
			})
		},
	}
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <session-id>",
		Short: "Close the session tab and delete the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc api.Service, _ logger.Logger) error {
				return svc.StopSession(cmd.Context(), model.SessionID(args[0]))
			})
		},
	}
}

func targetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List page targets of the browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc api.Service, _ logger.Logger) error {
				targets, err := svc.ListTargets(cmd.Context())
				if err != nil {
					return err
				}
				for _, t := range targets {
					fmt.Printf("%s  %s  %s\n", t.ID, t.URL, t.Title)
				}
				return nil
			})
		},
	}
}
