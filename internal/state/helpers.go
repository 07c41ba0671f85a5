package state

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
