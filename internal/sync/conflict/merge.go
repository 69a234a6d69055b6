package conflict

import "github.com/kimhsiao/habitnexus/backend/internal/models"

// MergeCompletions unions two completion maps. For a date present on both
// sides: two numbers yield the maximum, two booleans yield their OR, and
// mixed kinds keep the local value.
func MergeCompletions(local, remote map[string]models.Completion) map[string]models.Completion {
	if local == nil && remote == nil {
		return nil
	}

	out := make(map[string]models.Completion, len(local)+len(remote))
	for date, v := range remote {
		out[date] = v
	}
	for date, l := range local {
		rm, shared := remote[date]
		if !shared {
			out[date] = l
			continue
		}
		out[date] = mergeCompletion(l, rm)
	}
	return out
}

func mergeCompletion(local, remote models.Completion) models.Completion {
	switch {
	case local.IsNumeric() && remote.IsNumeric():
		if remote.Value() > local.Value() {
			return remote
		}
		return local
	case !local.IsNumeric() && !remote.IsNumeric():
		return models.Done(local.Bool() || remote.Bool())
	default:
		return local
	}
}

// MergeNotes unions two note maps; a non-empty local note wins on shared dates.
func MergeNotes(local, remote map[string]string) map[string]string {
	return mergeText(local, remote)
}

// MergeMoods unions two mood maps; a non-empty local mood wins on shared dates.
func MergeMoods(local, remote map[string]string) map[string]string {
	return mergeText(local, remote)
}

func mergeText(local, remote map[string]string) map[string]string {
	if local == nil && remote == nil {
		return nil
	}

	out := make(map[string]string, len(local)+len(remote))
	for date, v := range remote {
		out[date] = v
	}
	for date, v := range local {
		if v != "" {
			out[date] = v
			continue
		}
		if _, ok := out[date]; !ok {
			out[date] = v
		}
	}
	return out
}
