package palm

import (
	"errors"
	"maps"
)

// TargetField returns the related model of a foreign key and the field it
// points to. An empty ToField points to the related model's primary key.
func TargetField(f *Field) (*Model, *Field, error) {
	fk := f.ForeignKey
	if fk == nil {
		return nil, nil, &ForeignKeyError{Model: f.ModelName, Field: f.Name, Err: ErrForeignKeyMetadata}
	}

	if f.model == nil || f.model.catalog == nil {
		return nil, nil, &ForeignKeyError{Model: f.ModelName, Field: f.Name, Target: fk.RelatedTo, Err: ErrForeignKeyTarget}
	}

	related := f.model.catalog.Model(fk.RelatedTo)
	if related == nil {
		return nil, nil, &ForeignKeyError{Model: f.ModelName, Field: f.Name, Target: fk.RelatedTo, Err: ErrRelatedModelNotFound}
	}

	var target *Field
	if fk.ToField == "" {
		target = related.PrimaryKey()
	} else {
		target = related.Field(fk.ToField)
	}

	if target == nil {
		return nil, nil, &ForeignKeyError{
			Model:  f.ModelName,
			Field:  f.Name,
			Target: fk.RelatedTo + "." + fk.ToField,
			Err:    ErrForeignKeyTarget,
		}
	}

	return related, target, nil
}

// ForeignKeyResolution is the outcome of ResolveForeignKey.
type ForeignKeyResolution struct {
	// SameEngine is true when the related model is translated on the same
	// connection, so the foreign key can be a real relation.
	SameEngine bool
	Related    *Model
	Target     *Field
	// Substitute is set when SameEngine is false: a scalar field shaped
	// like the target that stands in for the foreign key.
	Substitute *Field
}

// ResolveForeignKey decides whether a foreign key stays a relation on eng or
// is replaced by the scalar field it points to.
func ResolveForeignKey(eng Engine, f *Field) (ForeignKeyResolution, error) {
	related, target, err := TargetField(f)
	if err != nil {
		return ForeignKeyResolution{}, withEngine(err, eng)
	}

	res := ForeignKeyResolution{Related: related, Target: target}

	if related.OnConnection(eng.ConnectionName()) {
		res.SameEngine = true

		return res, nil
	}

	sub, err := substituteFor(f, target)
	if err != nil {
		return ForeignKeyResolution{}, withEngine(err, eng)
	}

	res.Substitute = sub

	return res, nil
}

// substituteFor builds the scalar stand-in for f. Foreign keys pointing at
// foreign keys are followed to the final scalar. Auto-increment targets
// become plain integers since the referencing column does not generate.
func substituteFor(f, target *Field) (*Field, error) {
	for depth := 0; target.Kind == KindForeignKey; depth++ {
		if depth >= maxForeignKeyDepth {
			return nil, &ForeignKeyError{Model: f.ModelName, Field: f.Name, Target: f.ForeignKey.RelatedTo, Err: ErrForeignKeyTarget}
		}

		_, next, err := TargetField(target)
		if err != nil {
			return nil, err
		}

		target = next
	}

	spec := target.Spec()
	spec.Kind = referenceKind(spec.Kind)
	spec.Name = f.Name
	spec.DatabaseName = f.DatabaseName
	spec.ModelName = f.ModelName
	spec.AllowNull = f.AllowNull
	spec.Unique = f.Unique
	spec.PrimaryKey = f.PrimaryKey
	spec.DBIndex = f.DBIndex
	spec.Underscored = f.Underscored
	spec.Default = f.Default
	spec.HasDefault = f.HasDefault
	spec.CustomAttributes = maps.Clone(f.CustomAttributes)
	spec.ForeignKey = nil

	return &Field{FieldSpec: spec, model: f.model, initialized: true}, nil
}

// referenceKind is the kind of a column referencing a field of kind k.
func referenceKind(k FieldKind) FieldKind {
	switch k {
	case KindAutoIncrement:
		return KindInteger
	case KindBigAutoIncrement:
		return KindBigInteger
	default:
		return k
	}
}

func withEngine(err error, eng Engine) error {
	var fkErr *ForeignKeyError
	if errors.As(err, &fkErr) && fkErr.Engine == "" {
		fkErr.Engine = eng.Name()
	}

	return err
}
