// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package goplugin

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/holomush/plugbox/internal/plugin/report"
)

// Field names of the data and report messages.
const (
	fieldKey      = "key"
	fieldValue    = "value"
	fieldUnit     = "unit"
	fieldLoaded   = "loaded"
	fieldInvoked  = "invoked"
	fieldFailures = "failures"
	fieldModule   = "module"
	fieldEndpoint = "endpoint"
	fieldStage    = "stage"
	fieldMessage  = "message"
)

func encodeData(key, value string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldKey:   structpb.NewStringValue(key),
		fieldValue: structpb.NewStringValue(value),
	}}
}

func decodeData(s *structpb.Struct) (key, value string, err error) {
	fields := s.GetFields()
	k, ok := fields[fieldKey]
	if !ok {
		return "", "", fmt.Errorf("data message has no %q field", fieldKey)
	}
	if _, ok := k.GetKind().(*structpb.Value_StringValue); !ok {
		return "", "", fmt.Errorf("data field %q is not a string", fieldKey)
	}
	return k.GetStringValue(), fields[fieldValue].GetStringValue(), nil
}

func encodeStrings(values []string) *structpb.ListValue {
	list := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(values))}
	for _, v := range values {
		list.Values = append(list.Values, structpb.NewStringValue(v))
	}
	return list
}

func decodeStrings(list *structpb.ListValue) ([]string, error) {
	out := make([]string, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		if _, ok := v.GetKind().(*structpb.Value_StringValue); !ok {
			return nil, fmt.Errorf("list element %d is not a string", i)
		}
		out = append(out, v.GetStringValue())
	}
	return out, nil
}

func encodeReport(rep *report.Report) *structpb.Struct {
	failures := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(rep.Failures))}
	for _, f := range rep.Failures {
		failures.Values = append(failures.Values, structpb.NewStructValue(&structpb.Struct{
			Fields: map[string]*structpb.Value{
				fieldModule:   structpb.NewStringValue(f.Module),
				fieldEndpoint: structpb.NewStringValue(f.Endpoint),
				fieldStage:    structpb.NewStringValue(string(f.Stage)),
				fieldMessage:  structpb.NewStringValue(f.Message),
			},
		}))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldUnit:     structpb.NewStringValue(rep.Unit),
		fieldLoaded:   structpb.NewListValue(encodeStrings(rep.Loaded)),
		fieldInvoked:  structpb.NewListValue(encodeStrings(rep.Invoked)),
		fieldFailures: structpb.NewListValue(failures),
	}}
}

func decodeReport(s *structpb.Struct) (*report.Report, error) {
	fields := s.GetFields()
	rep := &report.Report{Unit: fields[fieldUnit].GetStringValue()}

	var err error
	if rep.Loaded, err = decodeStrings(fields[fieldLoaded].GetListValue()); err != nil {
		return nil, fmt.Errorf("%s: %w", fieldLoaded, err)
	}
	if rep.Invoked, err = decodeStrings(fields[fieldInvoked].GetListValue()); err != nil {
		return nil, fmt.Errorf("%s: %w", fieldInvoked, err)
	}
	for i, v := range fields[fieldFailures].GetListValue().GetValues() {
		f := v.GetStructValue()
		if f == nil {
			return nil, fmt.Errorf("%s: element %d is not a struct", fieldFailures, i)
		}
		ff := f.GetFields()
		rep.Fail(report.Failure{
			Module:   ff[fieldModule].GetStringValue(),
			Endpoint: ff[fieldEndpoint].GetStringValue(),
			Stage:    report.Stage(ff[fieldStage].GetStringValue()),
			Message:  ff[fieldMessage].GetStringValue(),
		})
	}
	return rep, nil
}
