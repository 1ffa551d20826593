package engine

type Champion struct {
	Name       string
	Title      string
	Role       string
	Difficulty string
	Region     string
}

var Champions = []Champion{
	{Name: "Ahri", Title: "the Nine-Tailed Fox", Role: "Mage", Difficulty: "Moderate", Region: "Ionia"},
	{Name: "Yasuo", Title: "the Unforgiven", Role: "Fighter", Difficulty: "High", Region: "Ionia"},
	{Name: "Lux", Title: "the Lady of Luminosity", Role: "Mage", Difficulty: "Low", Region: "Demacia"},
	{Name: "Thresh", Title: "the Chain Warden", Role: "Support", Difficulty: "High", Region: "Shadow Isles"},
	{Name: "Jinx", Title: "the Loose Cannon", Role: "Marksman", Difficulty: "Moderate", Region: "Zaun"},
	{Name: "Zed", Title: "the Master of Shadows", Role: "Assassin", Difficulty: "High", Region: "Ionia"},
	{Name: "Leona", Title: "the Radiant Dawn", Role: "Tank", Difficulty: "Low", Region: "Mount Targon"},
	{Name: "Darius", Title: "the Hand of Noxus", Role: "Fighter", Difficulty: "Moderate", Region: "Noxus"},
	{Name: "Morgana", Title: "the Fallen", Role: "Mage", Difficulty: "Moderate", Region: "Demacia"},
	{Name: "Garen", Title: "the Might of Demacia", Role: "Fighter", Difficulty: "Low", Region: "Demacia"},
	{Name: "Katarina", Title: "the Sinister Blade", Role: "Assassin", Difficulty: "High", Region: "Noxus"},
	{Name: "Ashe", Title: "the Frost Archer", Role: "Marksman", Difficulty: "Low", Region: "Freljord"},
	{Name: "Teemo", Title: "the Swift Scout", Role: "Marksman", Difficulty: "Low", Region: "Bandle City"},
	{Name: "Riven", Title: "the Exile", Role: "Fighter", Difficulty: "High", Region: "Noxus"},
	{Name: "Sona", Title: "Maven of the Strings", Role: "Support", Difficulty: "Low", Region: "Demacia"},
	{Name: "Vayne", Title: "the Night Hunter", Role: "Marksman", Difficulty: "High", Region: "Demacia"},
	{Name: "Blitzcrank", Title: "the Great Steam Golem", Role: "Support", Difficulty: "Moderate", Region: "Zaun"},
	{Name: "Fizz", Title: "the Tidal Trickster", Role: "Assassin", Difficulty: "High", Region: "Bilgewater"},
	{Name: "Annie", Title: "the Dark Child", Role: "Mage", Difficulty: "Low", Region: "Noxus"},
	{Name: "Tryndamere", Title: "the Barbarian King", Role: "Fighter", Difficulty: "Moderate", Region: "Freljord"},
}

func RandomChampion() Champion {
	return Champions[randomIndex(len(Champions))]
}

func ChampionByName(name string) (Champion, bool) {
	for _, c := range Champions {
		if c.Name == name {
			return c, true
		}
	}
	return Champion{}, false
}
