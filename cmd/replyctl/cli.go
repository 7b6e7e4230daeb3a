package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devricklin/notify-reply-bridge/internal/app"
	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/errors"
	"github.com/devricklin/notify-reply-bridge/internal/server"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(a *app.App) *cli.App {
	cliApp := &cli.App{
		Name:    "replyctl",
		Usage:   "Inspect and control the notification auto-reply store",
		Version: Version,
		Commands: []*cli.Command{
			appsCmd(a),
			groupsCmd(a),
			threadCmd(a),
			historyCmd(a),
			toggleCmd(a),
			policyCmd(a),
			keywordCmd(a),
			promptCmd(a),
			countsCmd(a),
			backupCmd(a),
			tokenCmd(a),
		},
	}
	// Errors are returned to main instead of exiting
	cliApp.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return cliApp
}

func rangeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "from", Usage: "Range start, RFC 3339 (default: 24h before --to)"},
		&cli.StringFlag{Name: "to", Usage: "Range end, RFC 3339 (default: now)"},
	}
}

func appsCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "apps",
		Usage: "List apps with notifications in a time range",
		Flags: rangeFlags(),
		Action: func(c *cli.Context) error {
			from, to, err := parseRange(c)
			if err != nil {
				return outputError(err)
			}
			apps, err := a.Usecases.Grouping.AppGroups(c.Context, from, to)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, apps)
		},
	}
}

func groupsCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "groups",
		Usage: "Cluster notifications of a time range into conversation groups",
		Flags: append(rangeFlags(),
			&cli.StringFlag{Name: "package", Aliases: []string{"p"}, Usage: "Restrict to one app package"},
		),
		Action: func(c *cli.Context) error {
			from, to, err := parseRange(c)
			if err != nil {
				return outputError(err)
			}
			groups, err := a.Usecases.Grouping.SmartGroups(c.Context, c.String("package"), from, to)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, groups)
		},
	}
}

func threadCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "thread",
		Usage:     "Show every notification of a conversation",
		ArgsUsage: "<conversation-id>",
		Action: func(c *cli.Context) error {
			thread, err := a.Usecases.Grouping.Thread(c.Context, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, thread)
		},
	}
}

func historyCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Show the recorded replies of a conversation",
		ArgsUsage: "<conversation-id>",
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return outputError(errors.NewInvalidRequest("conversation id is required"))
			}
			history, err := a.Usecases.Reply.History(c.Context, id)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, history)
		},
	}
}

func toggleCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "toggle",
		Usage:     "Flip automatic replies for the sender of a notification",
		ArgsUsage: "<notification-id>",
		Action: func(c *cli.Context) error {
			id, err := parseID(c.Args().First())
			if err != nil {
				return outputError(err)
			}
			disabled, err := a.Usecases.Policy.ToggleNotification(c.Context, id)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, map[string]any{"notification_id": id, "disabled": disabled})
		},
	}
}

func policyCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "policy",
		Usage: "Show or change the reply switches",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Show the global switch and per-app settings",
				Action: func(c *cli.Context) error {
					global, err := a.Usecases.Policy.GlobalEnabled(c.Context)
					if err != nil {
						return outputError(err)
					}
					apps, err := a.Usecases.Policy.ListApps(c.Context)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]any{"global_enabled": global, "apps": apps})
				},
			},
			{
				Name:      "global",
				Usage:     "Turn automatic replies on or off",
				ArgsUsage: "<on|off>",
				Action: func(c *cli.Context) error {
					enabled, err := parseSwitch(c.Args().First())
					if err != nil {
						return outputError(err)
					}
					if err := a.Usecases.Policy.SetGlobalEnabled(c.Context, enabled); err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]any{"global_enabled": enabled})
				},
			},
			{
				Name:      "app",
				Usage:     "Turn automatic replies on or off for one app",
				ArgsUsage: "<package> <on|off>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "groups", Usage: "Set the group-chat switch instead"},
				},
				Action: func(c *cli.Context) error {
					pkg := c.Args().Get(0)
					if pkg == "" {
						return outputError(errors.NewInvalidRequest("package is required"))
					}
					enabled, err := parseSwitch(c.Args().Get(1))
					if err != nil {
						return outputError(err)
					}
					if c.Bool("groups") {
						err = a.Usecases.Policy.SetAppGroupsEnabled(c.Context, pkg, enabled)
					} else {
						err = a.Usecases.Policy.SetAppEnabled(c.Context, pkg, enabled)
					}
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]any{"package_name": pkg, "enabled": enabled, "groups": c.Bool("groups")})
				},
			},
			{
				Name:      "clear-rules",
				Usage:     "Remove every conversation rule of an app",
				ArgsUsage: "<package>",
				Action: func(c *cli.Context) error {
					pkg := c.Args().First()
					if pkg == "" {
						return outputError(errors.NewInvalidRequest("package is required"))
					}
					n, err := a.Usecases.Policy.DeleteAppRules(c.Context, pkg)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]any{"package_name": pkg, "deleted": n})
				},
			},
			{
				Name:      "rule",
				Usage:     "Turn automatic replies on or off for one conversation",
				ArgsUsage: "<package> <identifier> <on|off>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Value: string(domain.IdentifierTitle), Usage: "TITLE or PHONE_NUMBER"},
				},
				Action: func(c *cli.Context) error {
					pkg, identifier := c.Args().Get(0), c.Args().Get(1)
					enabled, err := parseSwitch(c.Args().Get(2))
					if err != nil {
						return outputError(err)
					}
					idType := domain.IdentifierType(strings.ToUpper(c.String("type")))
					if err := a.Usecases.Policy.SetConversationDisabled(c.Context, pkg, identifier, idType, !enabled); err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]any{"package_name": pkg, "identifier": identifier, "identifier_type": idType, "disabled": !enabled})
				},
			},
			{
				Name:      "purge-app",
				Usage:     "Remove an app's conversation rules and stored notifications",
				ArgsUsage: "<package>",
				Action: func(c *cli.Context) error {
					pkg := c.Args().First()
					rules, notifications, err := a.Usecases.Policy.PurgeApp(c.Context, pkg)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]any{"package_name": pkg, "rules_deleted": rules, "notifications_deleted": notifications})
				},
			},
		},
	}
}

func keywordCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "keyword",
		Usage: "Manage keyword actions",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Add a keyword action",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "keyword", Aliases: []string{"k"}, Required: true, Usage: "Case-sensitive substring"},
					&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Value: string(domain.ActionText), Usage: "TEXT, IMAGE or VIDEO"},
					&cli.StringFlag{Name: "content", Aliases: []string{"c"}, Required: true, Usage: "Reply text or media path"},
					&cli.BoolFlag{Name: "disabled", Usage: "Create the action disabled"},
				},
				Action: func(c *cli.Context) error {
					action, err := a.Usecases.Keyword.Create(c.Context,
						c.String("keyword"), domain.ActionType(c.String("type")), c.String("content"), !c.Bool("disabled"))
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, action)
				},
			},
			{
				Name:  "list",
				Usage: "List keyword actions",
				Action: func(c *cli.Context) error {
					actions, err := a.Usecases.Keyword.List(c.Context)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, actions)
				},
			},
			{
				Name:      "enable",
				Usage:     "Enable or disable a keyword action",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "off", Usage: "Disable instead"},
				},
				Action: func(c *cli.Context) error {
					id, err := parseID(c.Args().First())
					if err != nil {
						return outputError(err)
					}
					enabled := !c.Bool("off")
					if err := a.Usecases.Keyword.SetEnabled(c.Context, id, enabled); err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]any{"id": id, "enabled": enabled})
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a keyword action",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					id, err := parseID(c.Args().First())
					if err != nil {
						return outputError(err)
					}
					if err := a.Usecases.Keyword.Delete(c.Context, id); err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]any{"id": id, "deleted": true})
				},
			},
		},
	}
}

func promptCmd(a *app.App) *cli.Command {
	templateFlags := []cli.Flag{
		&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Required: true, Usage: "Template name"},
		&cli.StringFlag{Name: "template", Aliases: []string{"t"}, Required: true, Usage: "Prompt text containing {message}"},
	}
	return &cli.Command{
		Name:  "prompt",
		Usage: "Manage reply prompt templates and per-conversation overrides",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List stored templates",
				Action: func(c *cli.Context) error {
					prompts, err := a.Usecases.Prompt.List(c.Context)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, prompts)
				},
			},
			{
				Name:  "add",
				Usage: "Store a template",
				Flags: append([]cli.Flag{
					&cli.BoolFlag{Name: "activate", Usage: "Make it the active template"},
				}, templateFlags...),
				Action: func(c *cli.Context) error {
					p, err := a.Usecases.Prompt.Create(c.Context, c.String("name"), c.String("template"), c.Bool("activate"))
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, p)
				},
			},
			{
				Name:      "update",
				Usage:     "Rewrite a stored template",
				ArgsUsage: "<id>",
				Flags:     templateFlags,
				Action: func(c *cli.Context) error {
					id, err := parseID(c.Args().First())
					if err != nil {
						return outputError(err)
					}
					p, err := a.Usecases.Prompt.Update(c.Context, id, c.String("name"), c.String("template"))
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, p)
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a stored template",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					id, err := parseID(c.Args().First())
					if err != nil {
						return outputError(err)
					}
					if err := a.Usecases.Prompt.Delete(c.Context, id); err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]any{"id": id, "deleted": true})
				},
			},
			{
				Name:      "activate",
				Usage:     "Make a template the active one",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "off", Usage: "Deactivate instead, falling back to the configured default"},
				},
				Action: func(c *cli.Context) error {
					id, err := parseID(c.Args().First())
					if err != nil {
						return outputError(err)
					}
					active := !c.Bool("off")
					if active {
						err = a.Usecases.Prompt.Activate(c.Context, id)
					} else {
						err = a.Usecases.Prompt.Deactivate(c.Context, id)
					}
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]any{"id": id, "active": active})
				},
			},
			{
				Name:      "show",
				Usage:     "Show the prompt a conversation is answered with",
				ArgsUsage: "[conversation-id]",
				Action: func(c *cli.Context) error {
					p, err := a.Usecases.Prompt.Effective(c.Context, c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, p)
				},
			},
			{
				Name:      "set",
				Usage:     "Override the prompt of a conversation",
				ArgsUsage: "<conversation-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Override name"},
					&cli.StringFlag{Name: "template", Aliases: []string{"t"}, Required: true, Usage: "Prompt text containing {message}"},
				},
				Action: func(c *cli.Context) error {
					p, err := a.Usecases.Prompt.SetConversationPrompt(c.Context, c.Args().First(), c.String("name"), c.String("template"))
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, p)
				},
			},
			{
				Name:  "overrides",
				Usage: "List per-conversation overrides",
				Action: func(c *cli.Context) error {
					prompts, err := a.Usecases.Prompt.ListConversationPrompts(c.Context)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, prompts)
				},
			},
			{
				Name:      "clear",
				Usage:     "Remove the override of a conversation",
				ArgsUsage: "<conversation-id>",
				Action: func(c *cli.Context) error {
					conversationID := c.Args().First()
					if err := a.Usecases.Prompt.ClearConversationPrompt(c.Context, conversationID); err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]any{"conversation_id": conversationID, "cleared": true})
				},
			},
		},
	}
}

func countsCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "counts",
		Usage: "Inspect and reset per-conversation reply counters",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List reply counters",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "near-limit", Usage: "Only conversations near the reply ceiling"},
					&cli.IntFlag{Name: "margin", Value: 2, Usage: "Replies left that count as near"},
				},
				Action: func(c *cli.Context) error {
					var (
						counts []domain.ConversationReplyCount
						err    error
					)
					if c.Bool("near-limit") {
						counts, err = a.Usecases.RateLimit.NearLimit(c.Context, a.Config.Reply.MaxReplies, c.Int("margin"))
					} else {
						counts, err = a.Usecases.RateLimit.List(c.Context)
					}
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, counts)
				},
			},
			{
				Name:      "reset",
				Usage:     "Reset the counter of a conversation",
				ArgsUsage: "<conversation-id>",
				Action: func(c *cli.Context) error {
					id := c.Args().First()
					if id == "" {
						return outputError(errors.NewInvalidRequest("conversation id is required"))
					}
					if err := a.Usecases.RateLimit.Reset(c.Context, id); err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]any{"conversation_id": id, "reset": true})
				},
			},
			{
				Name:  "cleanup",
				Usage: "Remove counters whose last reply is older than --max-age",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "max-age", Usage: "Age limit (default: CLEANUP_MAX_AGE_HOURS)"},
				},
				Action: func(c *cli.Context) error {
					maxAge := c.Duration("max-age")
					if maxAge <= 0 {
						maxAge = a.Config.Cleanup.MaxAge
					}
					n, err := a.Usecases.RateLimit.Cleanup(c.Context, maxAge)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]any{"deleted": n, "max_age": maxAge.String()})
				},
			},
		},
	}
}

func backupCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "Export or import a full snapshot",
		Subcommands: []*cli.Command{
			{
				Name:  "export",
				Usage: "Export to --out, or to the configured archive sink",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file"},
				},
				Action: func(c *cli.Context) error {
					out := c.String("out")
					if out == "" {
						manifest, name, err := a.Usecases.Backup.ExportToSink(c.Context)
						if err != nil {
							return outputError(err)
						}
						return outputJSON(c, map[string]any{"name": name, "manifest": manifest})
					}

					f, err := os.Create(out)
					if err != nil {
						return outputError(errors.NewInternal(err))
					}
					manifest, err := a.Usecases.Backup.Export(c.Context, f)
					if cerr := f.Close(); err == nil && cerr != nil {
						err = cerr
					}
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]any{"file": out, "manifest": manifest})
				},
			},
			{
				Name:      "import",
				Usage:     "Replace the store with a snapshot file, or an archive name with --sink",
				ArgsUsage: "<file|name>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "sink", Usage: "Read the named archive from the configured sink"},
				},
				Action: func(c *cli.Context) error {
					src := c.Args().First()
					if src == "" {
						return outputError(errors.NewInvalidRequest("backup file or name is required"))
					}

					var manifest *domain.BackupManifest
					if c.Bool("sink") {
						m, err := a.Usecases.Backup.RestoreFromSink(c.Context, src)
						if err != nil {
							return outputError(err)
						}
						manifest = m
					} else {
						f, err := os.Open(src)
						if err != nil {
							return outputError(errors.NewInvalidRequest(err.Error()))
						}
						defer f.Close()
						m, err := a.Usecases.Backup.Restore(c.Context, f)
						if err != nil {
							return outputError(err)
						}
						manifest = m
					}
					return outputJSON(c, manifest)
				},
			},
		},
	}
}

func tokenCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue a bearer token for the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "subject", Aliases: []string{"s"}, Required: true, Usage: "Device or operator name, used as the default source id"},
			&cli.DurationFlag{Name: "ttl", Usage: "Token lifetime, 0 for no expiry"},
			&cli.BoolFlag{Name: "admin", Usage: "Allow reading and acking every source's outbox"},
		},
		Action: func(c *cli.Context) error {
			secret := a.Config.HTTP.JWTSecret
			if secret == "" {
				return outputError(errors.NewInvalidRequest("JWT_SECRET is not set"))
			}
			issue := server.IssueToken
			if c.Bool("admin") {
				issue = server.IssueAdminToken
			}
			token, err := issue(secret, c.String("subject"), c.Duration("ttl"), time.Now())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, map[string]any{"subject": c.String("subject"), "admin": c.Bool("admin"), "token": token})
		},
	}
}

// outputJSON writes v as indented JSON to the app's writer.
func outputJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	rErr := errors.From(err)
	return cli.Exit(fmt.Sprintf("[%s] %s", rErr.Code, rErr.Message), 1)
}

func parseRange(c *cli.Context) (time.Time, time.Time, error) {
	to := time.Now()
	if v := c.String("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.NewInvalidRequest("invalid --to: " + v)
		}
		to = t
	}
	from := to.Add(-24 * time.Hour)
	if v := c.String("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.NewInvalidRequest("invalid --from: " + v)
		}
		from = t
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, errors.NewInvalidRequest("--to must be after --from")
	}
	return from, to, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.NewInvalidRequest(fmt.Sprintf("invalid id %q", s))
	}
	return id, nil
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, errors.NewInvalidRequest(fmt.Sprintf("expected on or off, got %q", s))
}
