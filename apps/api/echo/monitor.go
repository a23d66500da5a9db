package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/preston-56/lms-backend/core"
	"github.com/preston-56/lms-backend/core/monitor"
)

type monitorAPI struct {
	conf     *core.Config
	logger   core.Logger
	runner   *monitor.Runner
	auditLog monitor.AuditLog
}

func registerMonitorAPI(g *echo.Group, opts *Options) {
	api := monitorAPI{
		conf:     opts.Conf,
		logger:   opts.Logger,
		runner:   opts.Runner,
		auditLog: opts.AuditLog,
	}

	g.GET("/reports", api.listReports)
	g.GET("/reports/latest", api.latestReport)
	g.GET("/reports/:name", api.getReport)
	g.GET("/audit/:cycle", api.cycleAudit)
	g.POST("/scan", api.triggerScan)
}

func (api monitorAPI) listReports(ctx echo.Context) error {
	names, err := api.runner.Reports().ListReports()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if names == nil {
		names = []string{}
	}
	return ctx.JSON(http.StatusOK, echo.Map{"reports": names})
}

func (api monitorAPI) latestReport(ctx echo.Context) error {
	name, err := api.runner.Reports().LatestReport()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if name == "" {
		return echo.NewHTTPError(http.StatusNotFound, "no reports found")
	}
	return api.serveReport(ctx, name)
}

func (api monitorAPI) getReport(ctx echo.Context) error {
	return api.serveReport(ctx, ctx.Param("name"))
}

func (api monitorAPI) serveReport(ctx echo.Context, name string) error {
	content, err := api.runner.Reports().ReadReport(name)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return ctx.String(http.StatusOK, content)
}

func (api monitorAPI) cycleAudit(ctx echo.Context) error {
	entries, err := api.auditLog.Recent(ctx.Request().Context(), ctx.Param("cycle"))
	if err != nil {
		// never mask a read failure as an empty trail
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if entries == nil {
		entries = []monitor.Entry{}
	}
	return ctx.JSON(http.StatusOK, echo.Map{"entries": entries})
}

// triggerScan runs one cycle on demand, the manual counterpart of the
// daemon's schedule.
func (api monitorAPI) triggerScan(ctx echo.Context) error {
	res, err := api.runner.Run(ctx.Request().Context(), api.conf.Monitor.InactivityThreshold)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return ctx.JSON(http.StatusOK, echo.Map{
		"cycle_id": res.CycleID,
		"total":    res.Report.Total,
		"sent":     res.Report.Sent,
		"failed":   res.Report.Failed,
		"warnings": res.Warnings,
	})
}
