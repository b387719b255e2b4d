package scryfall

// Card is the subset of a Scryfall card object the catalog consumes.
type Card struct {
	ID            string             `json:"id"`
	OracleID      string             `json:"oracle_id,omitempty"`
	Name          string             `json:"name"`
	ManaCost      string             `json:"mana_cost,omitempty"`
	CMC           *float64           `json:"cmc,omitempty"`
	TypeLine      string             `json:"type_line,omitempty"`
	OracleText    string             `json:"oracle_text,omitempty"`
	Power         string             `json:"power,omitempty"`
	Toughness     string             `json:"toughness,omitempty"`
	Colors        []string           `json:"colors"`
	ColorIdentity []string           `json:"color_identity"`
	Rarity        string             `json:"rarity,omitempty"`
	SetName       string             `json:"set_name,omitempty"`
	Set           string             `json:"set,omitempty"`
	ImageURIs     map[string]string  `json:"image_uris,omitempty"`
	Prices        map[string]*string `json:"prices,omitempty"`
	CardFaces     []CardFace         `json:"card_faces,omitempty"`
}

// CardFace represents one face of a multi-faced card.
type CardFace struct {
	Name      string            `json:"name"`
	ImageURIs map[string]string `json:"image_uris,omitempty"`
}

// Identifier selects a card in a /cards/collection request. Set exactly one field.
type Identifier struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type collectionRequest struct {
	Identifiers []Identifier `json:"identifiers"`
}

type collectionResponse struct {
	Object   string       `json:"object"`
	NotFound []Identifier `json:"not_found"`
	Data     []Card       `json:"data"`
}

type apiError struct {
	Object  string `json:"object"`
	Code    string `json:"code"`
	Status  int    `json:"status"`
	Details string `json:"details"`
}
