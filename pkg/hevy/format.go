package hevy

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// KgToLbs converts kilograms to pounds rounded to one decimal, matching
// how lifters read their numbers in the app.
func KgToLbs(kg float64) float64 {
	return math.Round(kg*2.20462*10) / 10
}

func parseISOTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// FormatWorkouts renders workouts as a readable text block, most recent
// first, converting kg to lbs and keeping notes.
func FormatWorkouts(workouts []Workout) string {
	if len(workouts) == 0 {
		return "No workouts found for the requested window."
	}

	sorted := append([]Workout(nil), workouts...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].StartTime > sorted[j].StartTime
	})

	var lines []string
	for _, w := range sorted {
		title := w.Title
		if title == "" {
			title = "Untitled Workout"
		}
		lines = append(lines, "Workout: "+title)
		lines = append(lines, fmt.Sprintf("  Start: %s | End: %s", w.StartTime, w.EndTime))
		if w.Description != "" {
			lines = append(lines, "  Notes: "+w.Description)
		}

		if len(w.Exercises) == 0 {
			lines = append(lines, "  Exercises: none logged")
			continue
		}

		for idx, ex := range w.Exercises {
			exTitle := ex.Title
			if exTitle == "" {
				exTitle = "Unknown Exercise"
			}
			lines = append(lines, fmt.Sprintf("  %d. %s", idx+1, exTitle))
			if ex.Notes != "" {
				lines = append(lines, "     Exercise notes: "+ex.Notes)
			}

			if len(ex.Sets) == 0 {
				lines = append(lines, "     Sets: none")
				continue
			}

			for sIdx, s := range ex.Sets {
				parts := []string{fmt.Sprintf("Set %d", sIdx+1)}
				if s.Type != "" {
					parts = append(parts, "("+s.Type+")")
				}
				if s.WeightKg != nil {
					parts = append(parts, fmt.Sprintf("%g lbs", KgToLbs(*s.WeightKg)))
				}
				if s.Reps != nil {
					parts = append(parts, fmt.Sprintf("x %g reps", *s.Reps))
				}
				if s.DistanceMeters != nil {
					parts = append(parts, fmt.Sprintf("%g m", *s.DistanceMeters))
				}
				if s.DurationSeconds != nil {
					parts = append(parts, fmt.Sprintf("%g s", *s.DurationSeconds))
				}
				if s.RPE != nil {
					parts = append(parts, fmt.Sprintf("RPE %g", *s.RPE))
				}
				if s.CustomMetric != nil {
					parts = append(parts, fmt.Sprintf("custom_metric=%g", *s.CustomMetric))
				}
				lines = append(lines, "     "+strings.Join(parts, " "))
			}
		}

		lines = append(lines, "")
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

type frequencyEntry struct {
	templateID      string
	title           string
	sessionCount    int
	sets            int
	reps            float64
	durationSeconds float64
	volumeKg        float64
}

// FormatExerciseFrequency summarizes exercise frequency across workouts,
// sorted by the number of sessions an exercise appears in.
func FormatExerciseFrequency(workouts []Workout, start, end time.Time) string {
	if len(workouts) == 0 {
		return fmt.Sprintf("No workouts found between %s and %s.", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	stats := make(map[string]*frequencyEntry)
	sessions := make(map[string]map[string]struct{})

	for _, w := range workouts {
		if ts, ok := parseISOTime(w.StartTime); ok && (ts.Before(start) || ts.After(end)) {
			continue
		}
		seenInWorkout := make(map[string]struct{})

		for _, ex := range w.Exercises {
			templateID := ex.ExerciseTemplateID
			if templateID == "" {
				title := ex.Title
				if title == "" {
					title = "Unknown Exercise"
				}
				templateID = "title:" + title
			}

			entry, ok := stats[templateID]
			if !ok {
				title := ex.Title
				if title == "" {
					title = "Unknown Exercise"
				}
				entry = &frequencyEntry{templateID: templateID, title: title}
				stats[templateID] = entry
				sessions[templateID] = make(map[string]struct{})
			}

			if w.ID != "" {
				if _, dup := seenInWorkout[templateID]; !dup {
					sessions[templateID][w.ID] = struct{}{}
					seenInWorkout[templateID] = struct{}{}
				}
			}

			for _, s := range ex.Sets {
				entry.sets++
				if s.Reps != nil {
					entry.reps += *s.Reps
				}
				if s.WeightKg != nil && s.Reps != nil {
					entry.volumeKg += *s.WeightKg * *s.Reps
				}
				if s.DurationSeconds != nil {
					entry.durationSeconds += *s.DurationSeconds
				}
			}
		}
	}

	var entries []frequencyEntry
	for templateID, entry := range stats {
		entry.sessionCount = len(sessions[templateID])
		if entry.sessionCount == 0 {
			continue
		}
		entries = append(entries, *entry)
	}

	if len(entries) == 0 {
		return fmt.Sprintf("No exercise data found between %s and %s.", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].sessionCount != entries[j].sessionCount {
			return entries[i].sessionCount > entries[j].sessionCount
		}
		return entries[i].title < entries[j].title
	})

	lines := []string{fmt.Sprintf(
		"Exercise frequency %s -> %s (sorted by sessions):",
		start.Format("2006-01-02"), end.Format("2006-01-02"),
	)}
	for idx, e := range entries {
		line := fmt.Sprintf("%d. %s (id: %s): sessions %d", idx+1, e.title, e.templateID, e.sessionCount)
		if e.sets > 0 {
			line += fmt.Sprintf(", sets %d", e.sets)
		}
		if e.reps > 0 {
			line += fmt.Sprintf(", reps %d", int(e.reps))
		}
		if e.durationSeconds > 0 {
			minutes := math.Round(e.durationSeconds/60*10) / 10
			line += fmt.Sprintf(", duration %ds (%g min)", int(e.durationSeconds), minutes)
		}
		if e.volumeKg > 0 {
			line += fmt.Sprintf(", total volume %g lbs", KgToLbs(e.volumeKg))
		}
		lines = append(lines, line)
	}

	return strings.Join(lines, "\n")
}

type sessionTrend struct {
	workoutID string
	start     string
	rows      []HistoryRow
}

// FormatExerciseTrend summarizes per-set metrics, per-session trends, and
// notes for one exercise. Handles weight/reps, duration, and distance
// based exercises.
func FormatExerciseTrend(history []HistoryRow, workouts []Workout, exerciseID string, start, end time.Time) string {
	if len(history) == 0 {
		return fmt.Sprintf(
			"No history for exercise %s between %s and %s.",
			exerciseID, start.Format("2006-01-02"), end.Format("2006-01-02"),
		)
	}

	byWorkout := make(map[string]*sessionTrend)
	for _, row := range history {
		if row.WorkoutID == "" {
			continue
		}
		session, ok := byWorkout[row.WorkoutID]
		if !ok {
			session = &sessionTrend{workoutID: row.WorkoutID, start: row.WorkoutStartTime}
			byWorkout[row.WorkoutID] = session
		}
		session.rows = append(session.rows, row)
	}

	var (
		totalReps, totalVolumeKg, totalDuration, totalDistance float64
		maxWeightKg, maxEst1RMKg, maxDuration, maxDistance     float64
		hasWeight, hasDuration, hasDistance                    bool
	)
	for _, row := range history {
		if row.Reps != nil {
			totalReps += *row.Reps
		}
		if row.WeightKg != nil {
			hasWeight = true
			maxWeightKg = math.Max(maxWeightKg, *row.WeightKg)
			if row.Reps != nil {
				totalVolumeKg += *row.WeightKg * *row.Reps
				if *row.Reps > 0 {
					// Epley 1RM estimate.
					est := *row.WeightKg * (1 + *row.Reps/30)
					maxEst1RMKg = math.Max(maxEst1RMKg, est)
				}
			}
		}
		if row.DurationSeconds != nil {
			hasDuration = true
			totalDuration += *row.DurationSeconds
			maxDuration = math.Max(maxDuration, *row.DurationSeconds)
		}
		if row.DistanceMeters != nil {
			hasDistance = true
			totalDistance += *row.DistanceMeters
			maxDistance = math.Max(maxDistance, *row.DistanceMeters)
		}
	}

	var notes []string
	for _, w := range workouts {
		if ts, ok := parseISOTime(w.StartTime); ok && (ts.Before(start) || ts.After(end)) {
			continue
		}
		for _, ex := range w.Exercises {
			if ex.ExerciseTemplateID == exerciseID && ex.Notes != "" {
				day := w.StartTime
				if len(day) > 10 {
					day = day[:10]
				}
				notes = append(notes, day+" - "+ex.Notes)
			}
		}
	}

	lines := []string{
		fmt.Sprintf("Exercise trend for %s (%s -> %s):", exerciseID, start.Format("2006-01-02"), end.Format("2006-01-02")),
		fmt.Sprintf("- Sessions: %d | Sets: %d", len(byWorkout), len(history)),
	}
	if hasWeight {
		lines = append(lines, fmt.Sprintf(
			"- Weight metrics: max weight %g lbs; est 1RM %g lbs; total volume %g lbs",
			KgToLbs(maxWeightKg), KgToLbs(maxEst1RMKg), KgToLbs(totalVolumeKg),
		))
	}
	if hasDuration {
		minutes := math.Round(totalDuration/60*10) / 10
		lines = append(lines, fmt.Sprintf(
			"- Duration metrics: total %ds (%g min); max set %ds",
			int(totalDuration), minutes, int(maxDuration),
		))
	}
	if hasDistance {
		miles := math.Round(totalDistance/1609.34*100) / 100
		lines = append(lines, fmt.Sprintf(
			"- Distance metrics: total %d m (%g mi); max set %d m",
			int(totalDistance), miles, int(maxDistance),
		))
	}
	if totalReps > 0 {
		lines = append(lines, fmt.Sprintf("- Total reps: %d", int(totalReps)))
	}

	sessions := make([]*sessionTrend, 0, len(byWorkout))
	for _, session := range byWorkout {
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].start < sessions[j].start })

	lines = append(lines, "- Session trends (oldest -> newest):")
	const maxSessions = 30
	for i, session := range sessions {
		if i >= maxSessions {
			lines = append(lines, fmt.Sprintf("  * ... and %d more sessions", len(sessions)-maxSessions))
			break
		}

		var (
			sessReps, sessVolume, sessMaxWeight, sessEst1RM float64
			sessDuration, sessDistance, sessMaxSetVolume    float64
		)
		for _, row := range session.rows {
			if row.Reps != nil {
				sessReps += *row.Reps
			}
			if row.WeightKg != nil {
				sessMaxWeight = math.Max(sessMaxWeight, *row.WeightKg)
				if row.Reps != nil {
					setVolume := *row.WeightKg * *row.Reps
					sessVolume += setVolume
					sessMaxSetVolume = math.Max(sessMaxSetVolume, setVolume)
					est := *row.WeightKg
					if *row.Reps > 0 {
						est = *row.WeightKg * (1 + *row.Reps/30)
					}
					sessEst1RM = math.Max(sessEst1RM, est)
				}
			}
			if row.DurationSeconds != nil {
				sessDuration += *row.DurationSeconds
			}
			if row.DistanceMeters != nil {
				sessDistance += *row.DistanceMeters
			}
		}

		startLabel := session.start
		if startLabel == "" {
			startLabel = "unknown"
		}
		parts := []string{startLabel, fmt.Sprintf("%d sets", len(session.rows))}
		if sessVolume > 0 {
			parts = append(parts, fmt.Sprintf("vol %g lbs", KgToLbs(sessVolume)))
		}
		if sessMaxSetVolume > 0 {
			parts = append(parts, fmt.Sprintf("max set vol %g lbs", KgToLbs(sessMaxSetVolume)))
		}
		if sessMaxWeight > 0 {
			parts = append(parts, fmt.Sprintf("max %g lbs", KgToLbs(sessMaxWeight)))
		}
		if sessEst1RM > 0 {
			parts = append(parts, fmt.Sprintf("1RM %g lbs", KgToLbs(sessEst1RM)))
		}
		if sessReps > 0 && sessVolume == 0 {
			parts = append(parts, fmt.Sprintf("reps %d", int(sessReps)))
		}
		if sessDuration > 0 {
			parts = append(parts, fmt.Sprintf("dur %ds", int(sessDuration)))
		}
		if sessDistance > 0 {
			parts = append(parts, fmt.Sprintf("dist %dm", int(sessDistance)))
		}

		lines = append(lines, "  * "+strings.Join(parts, " | ")+fmt.Sprintf(" (workout %s)", session.workoutID))
	}

	if len(notes) > 0 {
		lines = append(lines, "- Exercise notes (most recent first):")
		const maxNotes = 10
		for i, note := range notes {
			if i >= maxNotes {
				lines = append(lines, fmt.Sprintf("  * ... and %d more notes", len(notes)-maxNotes))
				break
			}
			lines = append(lines, "  * "+note)
		}
	} else {
		lines = append(lines, "- Exercise notes: none logged in this window.")
	}

	return strings.Join(lines, "\n")
}
