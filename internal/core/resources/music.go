package resources

import (
	"context"
	"time"

	"github.com/JonMunkholm/impex/internal/core"
)

// Entity names shared by the definitions and the relation codec.
const (
	EntityInstruments = "instruments"
	EntityBands       = "bands"
	EntityArtists     = "artists"
	EntityMemberships = "memberships"
)

func instruments() core.ResourceDefinition {
	return core.ResourceDefinition{
		Info: core.ResourceInfo{Key: "instruments", Label: "Instruments", Entity: EntityInstruments},
		Fields: []core.FieldSpec{
			{Name: "ID", Attribute: core.IDAttribute, Type: core.FieldInteger, ReadOnly: true},
			{Name: "Title", Type: core.FieldText, Required: true, Normalizer: CollapseSpaces},
		},
		IdentityFields: []string{"title"},
		DeleteField:    "Delete",
		Ordering:       []string{"title"},
	}
}

func bands() core.ResourceDefinition {
	return core.ResourceDefinition{
		Info: core.ResourceInfo{Key: "bands", Label: "Bands", Entity: EntityBands},
		Fields: []core.FieldSpec{
			{Name: "ID", Attribute: core.IDAttribute, Type: core.FieldInteger, ReadOnly: true},
			{Name: "Title", Type: core.FieldText, Required: true, Normalizer: CollapseSpaces},
			{Name: "Formed", Type: core.FieldDate, AllowEmpty: true},
			{Name: "Genre", Type: core.FieldEnum, EnumValues: Genres, AllowEmpty: true},
		},
		IdentityFields: []string{"title"},
		DeleteField:    "Delete",
		Ordering:       []string{"title"},
		ValidateRow:    validateBand,
	}
}

// Genres are the accepted band genres.
var Genres = []string{"Rock", "Pop", "Jazz", "Blues", "Metal", "Folk", "Electronic"}

func validateBand(ctx context.Context, values core.Entity) []core.ValidationError {
	formed, ok := values["formed"].(time.Time)
	if ok && formed.After(time.Now()) {
		return []core.ValidationError{{
			Field:   "Formed",
			Value:   formed.Format(core.DateLayout),
			Message: "date is in the future",
		}}
	}
	return nil
}

// BandsCodec renders an artist's memberships as "Band:date joined" pairs.
// Band titles are matched case-insensitively and whitespace-tolerantly.
func BandsCodec() *core.RelationCodec {
	return core.NewRelationCodec(core.RelationConfig{
		JoinEntity:       EntityMemberships,
		OwnerAttribute:   "artist_id",
		RelatedEntity:    EntityBands,
		RelatedAttribute: "band_id",
		RemField:         "title",
		RemFieldLookup:   "regex",
		ExtraFields:      []string{"date_joined"},
		ExtraFieldTypes:  map[string]core.FieldType{"date_joined": core.FieldDate},
	})
}

func artists() core.ResourceDefinition {
	return core.ResourceDefinition{
		Info: core.ResourceInfo{Key: "artists", Label: "Artists", Entity: EntityArtists},
		Fields: []core.FieldSpec{
			{Name: "ID", Attribute: core.IDAttribute, Type: core.FieldInteger, ReadOnly: true},
			{Name: "External ID", Type: core.FieldText, AllowEmpty: true},
			{Name: "Name", Type: core.FieldText, Required: true, Normalizer: CollapseSpaces},
			{
				Name:       "Instrument",
				Attribute:  "instrument_id",
				Type:       core.FieldForeignKey,
				AllowEmpty: true,
				ForeignKey: &core.ForeignKeySpec{Entity: EntityInstruments, Lookup: "title"},
			},
			{Name: "Bands", Type: core.FieldRelation, AllowEmpty: true, Relation: BandsCodec()},
		},
		IdentityFields: []string{"name"},
		DeleteField:    "Delete",
		Ordering:       []string{"name"},
		Filterable:     []string{"name", "external_id", "instrument_id"},
	}
}

func memberships() core.ResourceDefinition {
	return core.ResourceDefinition{
		Info: core.ResourceInfo{Key: "memberships", Label: "Memberships", Entity: EntityMemberships},
		Fields: []core.FieldSpec{
			{Name: "ID", Attribute: core.IDAttribute, Type: core.FieldInteger, ReadOnly: true},
			{
				Name:       "Artist",
				Attribute:  "artist_id",
				Type:       core.FieldForeignKey,
				Required:   true,
				ForeignKey: &core.ForeignKeySpec{Entity: EntityArtists, Lookup: "name"},
			},
			{
				Name:       "Band",
				Attribute:  "band_id",
				Type:       core.FieldForeignKey,
				Required:   true,
				ForeignKey: &core.ForeignKeySpec{Entity: EntityBands, Lookup: "title"},
			},
			{Name: "Date Joined", Type: core.FieldDate, AllowEmpty: true},
		},
		IdentityFields: []string{"artist_id", "band_id"},
		DeleteField:    "Delete",
		Ordering:       []string{"artist_id", "band_id"},
		Formats:        []string{"csv", "tsv", "xlsx"},
	}
}
