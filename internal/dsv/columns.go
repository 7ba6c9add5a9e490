package dsv

// DefaultDelimiter separates fields. It is reserved: no stored value may
// contain it.
const DefaultDelimiter = '^'

// Column names used by this system. Other columns in a table are preserved
// untouched.
const (
	ColID          = "ID"
	ColAlbumID     = "AlbumID"
	ColArtist      = "Artist"
	ColAlbum       = "Album"
	ColAlbumArtist = "AlbumArtist"
	ColTitle       = "SongTitle"
	ColPath        = "SongPath"
	ColGenre       = "Genre"
	ColLength      = "SongLength"
	ColRating      = "Rating"
	ColGroupDesc   = "GroupDesc"
	ColLastPlayed  = "LastPlayed"
	ColCustom2     = "Custom2"
)

// DefaultHeader is the header written when a store file is created.
func DefaultHeader() []string {
	return []string{
		ColID,
		ColAlbumID,
		ColArtist,
		ColAlbum,
		ColAlbumArtist,
		ColTitle,
		ColPath,
		ColGenre,
		ColLength,
		ColRating,
		ColGroupDesc,
		ColLastPlayed,
		ColCustom2,
	}
}
