package http

import (
	"net/url"
	"time"

	"ratecal/internal/calibration"
	"ratecal/internal/services"
	api "ratecal/pkg/contracts/api/v1"
)

// EventsPath is the websocket endpoint streaming run progress.
const EventsPath = "/ws"

func toRunResponse(run *services.Run) api.RunResponse {
	resp := api.RunResponse{
		ID:     run.ID,
		Status: string(run.Status),
		Source: run.Source,
		Rows:   run.Rows,
		Dataset: api.DatasetResponse{
			RatingVariables: run.Spec.RatingVariables,
			ActualField:     run.Spec.ActualField,
			ExpectedField:   run.Spec.ExpectedField,
			WeightField:     run.Spec.WeightField,
			Mode:            string(run.Spec.Mode),
			Grouped:         run.Spec.Grouped,
		},
		Reports:    run.Reports,
		CreatedAt:  run.CreatedAt,
		StartedAt:  optionalTime(run.StartedAt),
		FinishedAt: optionalTime(run.FinishedAt),
		Links: api.RunLinks{
			Self:   CalibrationsPath + "/" + url.PathEscape(run.ID),
			Events: EventsPath + "?run_id=" + url.QueryEscape(run.ID),
		},
	}
	if p := run.Progress; p != nil {
		resp.Progress = &api.ProgressResponse{
			Kind:      p.Kind,
			State:     string(p.State),
			Stage:     p.Stage,
			Stages:    p.Stages,
			Variables: p.Variables,
			Deviation: p.Deviation,
			Ratio:     p.Ratio,
			Message:   p.Message,
			Timestamp: p.Timestamp,
		}
	}
	if run.Result != nil {
		resp.Result = toResultResponse(run.Result)
	}
	if run.Error != nil {
		resp.Error = &api.RunErrorResponse{
			Type:    run.Error.Type,
			Message: run.Error.Message,
			Context: run.Error.Context,
		}
	}
	return resp
}

func toResultResponse(res *calibration.Result) *api.ResultResponse {
	out := &api.ResultResponse{
		Mode:              string(res.Mode),
		Grouped:           res.Grouped,
		Credibility:       res.Credibility,
		Converged:         res.Converged,
		InitialRatio:      res.InitialRatio,
		StartingRatio:     res.StartingRatio,
		StartingDeviation: res.StartingDeviation,
		EndingRatio:       res.EndingRatio,
		EndingDeviation:   res.EndingDeviation,
		Factors:           toFactors(res.Factors),
		Stages:            make([]api.StageResponse, 0, len(res.Stages)),
		DurationSeconds:   res.Duration().Seconds(),
	}
	for _, st := range res.Stages {
		out.Stages = append(out.Stages, api.StageResponse{
			Index:                st.Index,
			Variables:            st.Variables,
			DeviationBefore:      st.DeviationBefore,
			DeviationAfter:       st.DeviationAfter,
			RatioAfter:           st.RatioAfter,
			Converged:            st.Converged,
			Message:              st.Message,
			Iterations:           st.Iterations,
			Evaluations:          st.Evaluations,
			ObjectiveEvaluations: st.ObjectiveEvaluations,
			DurationSeconds:      st.Duration.Seconds(),
		})
	}
	return out
}

func toFactors(table calibration.FactorTable) []api.FactorsResponse {
	out := make([]api.FactorsResponse, 0, len(table))
	for _, vf := range table {
		levels := make([]api.LevelFactor, 0, len(vf.Levels))
		for _, lf := range vf.Levels {
			levels = append(levels, api.LevelFactor{Level: lf.Level, Factor: lf.Factor})
		}
		out = append(out, api.FactorsResponse{Variable: vf.Variable, Levels: levels})
	}
	return out
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
